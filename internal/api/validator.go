package api

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	validator *validator.Validate
}

// NewValidator reports fields by their JSON names.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validator: v}
}

func (v *Validator) Validate(i interface{}) error {
	return v.validator.Struct(i)
}

func (v *Validator) FormatValidationErrors(err error) map[string]string {
	errs := make(map[string]string)

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrors {
			field := e.Field()
			switch e.Tag() {
			case "required":
				errs[field] = field + " is required"
			case "uuid":
				errs[field] = field + " must be a valid UUID"
			case "datetime":
				errs[field] = field + " must be a date in YYYY-MM-DD format"
			case "oneof":
				errs[field] = field + " must be one of: " + e.Param()
			case "max":
				errs[field] = field + " must be at most " + e.Param() + " characters"
			default:
				errs[field] = field + " is invalid"
			}
		}
	}

	return errs
}
