package birthdate

import "time"

// Age returns completed whole years between birth and now. The year does not
// count until the birthday's month and day have been reached; a 29 February
// birthday is reached on 1 March in common years.
func Age(birth, now time.Time) int {
	by, bm, bd := birth.Date()
	ny, nm, nd := now.Date()
	age := ny - by
	if nm < bm || (nm == bm && nd < bd) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}
