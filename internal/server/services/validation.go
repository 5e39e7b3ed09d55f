package services

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/fastauth/internal/common"
	"github.com/dmitrijs2005/fastauth/internal/server/auth"
	"github.com/go-playground/validator/v10"
)

type registration struct {
	Email    string `validate:"required,email"`
	Username string `validate:"required,min=3,max=50"`
	Password string `validate:"required,min=8"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateRegistration returns a common.ErrValidation naming every bad field.
func validateRegistration(email, username, password string) error {
	var problems []string

	err := getValidator().Struct(registration{Email: email, Username: username, Password: password})
	if err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", common.ErrValidation, err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	// bcrypt limit is in bytes, validator counts runes
	if len(password) > auth.MaxPasswordBytes {
		problems = append(problems, fmt.Sprintf("password: must be at most %d bytes", auth.MaxPasswordBytes))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", common.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + ": is required"
	case "email":
		return field + ": must be a valid email address"
	case "min":
		return fmt.Sprintf("%s: must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s: must be at most %s characters", field, fe.Param())
	default:
		return field + ": is invalid"
	}
}
