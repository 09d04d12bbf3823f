// Package validation checks inbound request payloads before they reach
// the directory. Struct tags carry the rules; failures surface as one
// joined validation error.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"chatdb/pkg/cerr"
	"chatdb/pkg/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	_ = validate.RegisterValidation("msgkind", func(fl validator.FieldLevel) bool {
		return models.ValidKind(models.MessageKind(fl.Field().String()))
	})
}

// Check validates v against its struct tags and flattens any failures
// into a single validation error.
func Check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return cerr.Validation("%s", err.Error())
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, describe(fe))
	}
	return cerr.Validation("%s", strings.Join(parts, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s exceeds max length %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s below min length %s", field, fe.Param())
	case "msgkind":
		return fmt.Sprintf("%s is not a valid message kind", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
