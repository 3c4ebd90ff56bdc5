// Package validate wraps go-playground/validator with messages suitable for
// API error descriptions.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "agegate/pkg/domain-errors"
)

// v is initialised once at package load. Custom registrations belong in init.
var v = validator.New(validator.WithRequiredStructEnabled())

// Struct validates s against its validate tags. Failures are returned as a
// CodeValidation domain error listing each offending field.
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "validation failed")
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
	}
	return dErrors.New(dErrors.CodeValidation, strings.Join(msgs, "; "))
}
