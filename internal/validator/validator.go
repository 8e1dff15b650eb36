package validator

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/metinatakli/coursehub/api"
)

var (
	referralCodeRgx = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

func NewValidator() *validator.Validate {
	validator := validator.New(validator.WithRequiredStructEnabled())

	validator.RegisterValidation("item_kind", validateItemKind)
	validator.RegisterValidation("referral_code", validateReferralCode)

	return validator
}

func validateItemKind(fl validator.FieldLevel) bool {
	kind, ok := fl.Field().Interface().(api.ItemKind)
	if !ok {
		return false
	}

	return kind == api.Course || kind == api.Community || kind == api.Platform
}

func validateReferralCode(fl validator.FieldLevel) bool {
	return referralCodeRgx.MatchString(fl.Field().String())
}

// ValidationMessage converts validator errors into readable messages
func ValidationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", err.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters long", err.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters long", err.Param())
	case "alpha":
		return "must contain only letters"
	case "item_kind":
		return "must be one of course, community or platform"
	case "referral_code":
		return "must contain only letters, digits, dashes and underscores"
	default:
		return "is invalid"
	}
}
