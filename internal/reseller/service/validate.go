package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/25x8/smm-reseller/internal/reseller/apperr"
)

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateInput turns the first failing rule into an apperr.ValidationError.
func validateInput(v *validator.Validate, in any) error {
	err := v.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &apperr.ValidationError{Message: err.Error()}
	}

	fe := fieldErrs[0]
	msg := "is invalid"
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "gt":
		msg = fmt.Sprintf("must be greater than %s", fe.Param())
	case "min":
		msg = fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		msg = fmt.Sprintf("must be at most %s", fe.Param())
	case "url", "http_url":
		msg = "must be a valid URL"
	case "oneof":
		msg = fmt.Sprintf("must be one of: %s", fe.Param())
	}
	return &apperr.ValidationError{Field: fe.Field(), Message: msg}
}
