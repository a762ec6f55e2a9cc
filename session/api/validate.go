package api

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/gravitational/trace"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("notnumeric", notNumeric); err != nil {
		panic(err)
	}
	return v
}

func notNumeric(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	for _, r := range value {
		if !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

var validationMessages = map[string]map[string]string{
	"email": {
		"required": "Email is required",
		"email":    "Email is invalid",
	},
	"password": {
		"required":   "Password is required",
		"min":        "Password must be at least 8 characters",
		"notnumeric": "Password cannot be entirely numeric",
	},
	"password_confirm": {
		"required": "Please confirm your password",
		"eqfield":  "Passwords do not match",
	},
}

// ValidateRegistration checks the registration form before it is sent.
func ValidateRegistration(req RegisterRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return trace.Wrap(err)
	}

	result := &ValidationError{Fields: make(map[string][]string)}
	for _, fieldErr := range fieldErrs {
		msg := validationMessages[fieldErr.Field()][fieldErr.Tag()]
		if msg == "" {
			msg = fieldErr.Error()
		}
		result.Fields[fieldErr.Field()] = append(result.Fields[fieldErr.Field()], msg)
	}
	return trace.Wrap(result)
}
