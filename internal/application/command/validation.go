// Package command contains write operations on learner progress (CQRS - Commands).
// Every handler takes the per-scope lock shared with the reconciler before it
// touches the local cache.
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/learnpath/learnpath/internal/domain/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateCommand checks struct tags and maps failures to shared.ErrValidation.
func validateCommand(op string, cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return shared.WrapError("command", op, shared.ErrValidation, "invalid command", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()))
	}
	return shared.NewDomainError("command", op, shared.ErrValidation, strings.Join(msgs, "; "))
}
