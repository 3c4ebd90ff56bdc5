package domain

import (
	"github.com/google/uuid"

	dErrors "agegate/pkg/domain-errors"
)

// SubjectID identifies an account going through age verification.
// It is a distinct type so it cannot be confused with other UUIDs.
type SubjectID uuid.UUID

// NewSubjectID returns a random SubjectID.
func NewSubjectID() SubjectID {
	return SubjectID(uuid.New())
}

// ParseSubjectID parses and validates a subject identifier received at a
// trust boundary. Empty, malformed and nil UUIDs are rejected.
func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID(s, "subject ID")
	if err != nil {
		return SubjectID{}, err
	}
	return SubjectID(u), nil
}

func (id SubjectID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether the ID is the zero value.
func (id SubjectID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalText implements encoding.TextMarshaler so IDs render as strings in JSON.
func (id SubjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty and nil values
// decode to the zero ID so records without a subject round-trip.
func (id *SubjectID) UnmarshalText(b []byte) error {
	if len(b) == 0 || string(b) == uuid.Nil.String() {
		*id = SubjectID{}
		return nil
	}
	parsed, err := ParseSubjectID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must not be nil")
	}
	return u, nil
}
