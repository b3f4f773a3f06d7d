package services

import (
	"regexp"

	"github.com/BradenHooton/thermo/internal/models"
	pkgauth "github.com/BradenHooton/thermo/pkg/auth"
	"github.com/go-playground/validator/v10"
)

const (
	MinUsernameLen = 3
	MaxUsernameLen = 50
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("username_chars", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidateUsername checks length and the [A-Za-z0-9_] alphabet.
func ValidateUsername(username string) error {
	if username == "" {
		return models.NewValidationError("username", "Username is required")
	}
	if err := validate.Var(username, "min=3,max=50"); err != nil {
		return models.NewValidationError("username", "Username must be between 3 and 50 characters")
	}
	if err := validate.Var(username, "username_chars"); err != nil {
		return models.NewValidationError("username", "Username may only contain letters, digits and underscores")
	}
	return nil
}

// ValidatePassword wraps the length check as a field error.
func ValidatePassword(password string) error {
	if password == "" {
		return models.NewValidationError("password", "Password is required")
	}
	if err := pkgauth.ValidatePassword(password); err != nil {
		return models.NewValidationError("password", err.Error())
	}
	return nil
}
