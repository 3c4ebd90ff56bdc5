// Package birthdate finds a date of birth in noisy OCR text.
//
// Patterns are tried in a fixed priority order: ISO, day-first, month-first,
// "Month DD, YYYY", then "DD Month YYYY". Every match of a pattern is tried
// before the next pattern. A candidate must be a real calendar date with a
// year between 1900 and the current year, and must not lie in the future.
// The first candidate that passes wins.
//
// A string such as "03/04/1960" is read day-first as 3 April 1960. The
// priority order is the only disambiguation.
package birthdate

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"agegate/pkg/requestcontext"
)

// MinYear is the earliest accepted birth year.
const MinYear = 1900

// Layout names the pattern that produced a match.
type Layout string

const (
	LayoutISO        Layout = "iso"
	LayoutDayFirst   Layout = "day_first"
	LayoutMonthFirst Layout = "month_first"
	LayoutMonthName  Layout = "month_name"
	LayoutDayMonth   Layout = "day_month_name"
)

// Match is a validated birthdate and where it came from.
type Match struct {
	Date   time.Time
	Raw    string
	Layout Layout
}

const monthNames = `January|February|March|April|May|June|July|August|September|October|November|December|` +
	`Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sept|Sep|Oct|Nov|Dec`

const (
	day   = `(0?[1-9]|[12][0-9]|3[01])`
	month = `(0?[1-9]|1[0-2])`
	year  = `((?:19|20)\d{2})`
	sep   = `([/-])`
)

type pattern struct {
	layout Layout
	re     *regexp.Regexp
	// fields maps submatches to year, month, day. ok is false when the
	// match is structurally unusable (mixed separators).
	fields func(m []string) (y, mo, d int, ok bool)
}

var patterns = []pattern{
	{
		layout: LayoutISO,
		re:     regexp.MustCompile(`(?i)\b` + year + sep + month + sep + day + `\b`),
		fields: func(m []string) (int, int, int, bool) {
			return atoi(m[1]), atoi(m[3]), atoi(m[5]), m[2] == m[4]
		},
	},
	{
		layout: LayoutDayFirst,
		re:     regexp.MustCompile(`(?i)\b` + day + sep + month + sep + year + `\b`),
		fields: func(m []string) (int, int, int, bool) {
			return atoi(m[5]), atoi(m[3]), atoi(m[1]), m[2] == m[4]
		},
	},
	{
		layout: LayoutMonthFirst,
		re:     regexp.MustCompile(`(?i)\b` + month + sep + day + sep + year + `\b`),
		fields: func(m []string) (int, int, int, bool) {
			return atoi(m[5]), atoi(m[1]), atoi(m[3]), m[2] == m[4]
		},
	},
	{
		layout: LayoutMonthName,
		re:     regexp.MustCompile(`(?i)\b(` + monthNames + `)\s+` + day + `,?\s+` + year + `\b`),
		fields: func(m []string) (int, int, int, bool) {
			mo := monthNumber(m[1])
			return atoi(m[3]), mo, atoi(m[2]), mo > 0
		},
	},
	{
		layout: LayoutDayMonth,
		re:     regexp.MustCompile(`(?i)\b` + day + `\s+(` + monthNames + `)\s+` + year + `\b`),
		fields: func(m []string) (int, int, int, bool) {
			mo := monthNumber(m[2])
			return atoi(m[3]), mo, atoi(m[1]), mo > 0
		},
	},
}

const confusable = "OlISB"

var confusions = strings.NewReplacer("O", "0", "l", "1", "I", "1", "S", "5", "B", "8")

// Correct replaces letters OCR commonly confuses with digits (O→0, l→1,
// I→1, S→5, B→8). A token is corrected when it already contains a digit, or
// when it is made only of confusable letters and touches a date separator
// ("OB/lO/1960"). Words like "DOB" or "Sept" survive.
func Correct(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		tok := text[start:end]
		if strings.IndexFunc(tok, unicode.IsDigit) >= 0 ||
			(strings.Trim(tok, confusable) == "" && touchesSeparator(text, start, end)) {
			tok = confusions.Replace(tok)
		}
		b.WriteString(tok)
		start = -1
	}
	for i, r := range text {
		if isAlnum(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
		b.WriteRune(r)
	}
	flush(len(text))
	return b.String()
}

// Parse corrects raw and returns the first valid birthdate relative to now.
func Parse(raw string, now time.Time) (Match, bool) {
	if strings.TrimSpace(raw) == "" {
		return Match{}, false
	}
	text := Correct(raw)
	for _, p := range patterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			y, mo, d, ok := p.fields(m)
			if !ok {
				continue
			}
			date, ok := validDate(y, mo, d, now)
			if !ok {
				continue
			}
			return Match{Date: date, Raw: m[0], Layout: p.layout}, true
		}
	}
	return Match{}, false
}

func validDate(y, mo, d int, now time.Time) (time.Time, bool) {
	if y < MinYear || y > now.Year() || mo < 1 || mo > 12 || d < 1 {
		return time.Time{}, false
	}
	date := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalises 31 April to 1 May.
	if date.Year() != y || int(date.Month()) != mo || date.Day() != d {
		return time.Time{}, false
	}
	ny, nm, nd := now.Date()
	if date.After(time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)) {
		return time.Time{}, false
	}
	return date, true
}

func monthNumber(name string) int {
	if len(name) < 3 {
		return 0
	}
	switch strings.ToLower(name[:3]) {
	case "jan":
		return 1
	case "feb":
		return 2
	case "mar":
		return 3
	case "apr":
		return 4
	case "may":
		return 5
	case "jun":
		return 6
	case "jul":
		return 7
	case "aug":
		return 8
	case "sep":
		return 9
	case "oct":
		return 10
	case "nov":
		return 11
	case "dec":
		return 12
	}
	return 0
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func touchesSeparator(text string, start, end int) bool {
	isSep := func(c byte) bool { return c == '/' || c == '-' }
	return (start > 0 && isSep(text[start-1])) || (end < len(text) && isSep(text[end]))
}

func isAlnum(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// Extractor logs parse misses for operators. It never logs the OCR text.
type Extractor struct {
	logger *slog.Logger
}

type Option func(*Extractor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract parses raw against the request clock.
func (e *Extractor) Extract(ctx context.Context, raw string) (Match, bool) {
	m, ok := Parse(raw, requestcontext.Now(ctx))
	if !ok {
		e.logger.WarnContext(ctx, "could not parse birthdate from OCR text", "text_length", len(raw))
		return Match{}, false
	}
	e.logger.DebugContext(ctx, "parsed birthdate", "layout", string(m.Layout))
	return m, true
}
