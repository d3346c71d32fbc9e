// Package schema validates billing codes and API request bodies with struct tags.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"visit-intake-service/internal/failure"
	"visit-intake-service/internal/models"
)

// Validator wraps a configured go-playground validator.
type Validator struct {
	v *validator.Validate
}

// New creates a validator that reports fields by their JSON names and knows
// the notblank tag.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &Validator{v: v}
}

// Struct validates a tagged struct. Violations come back as ValidationFailed.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return failure.ValidationFailed(err.Error())
	}
	return failure.ValidationFailed(describe("", verrs))
}

// Codes validates every entry of a working code set. An empty set is valid.
func (v *Validator) Codes(codes []models.BillingCode) error {
	var msgs []string
	for i, c := range codes {
		err := v.v.Struct(c)
		if err == nil {
			continue
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return failure.ValidationFailed(err.Error())
		}
		msgs = append(msgs, describe(fmt.Sprintf("codes[%d].", i), verrs))
	}
	if len(msgs) > 0 {
		return failure.ValidationFailed(strings.Join(msgs, "; "))
	}
	return nil
}

func describe(prefix string, verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, e := range verrs {
		parts = append(parts, prefix+e.Field()+" "+message(e))
	}
	return strings.Join(parts, "; ")
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "notblank":
		return "is required"
	case "gte":
		return "must be at least " + e.Param()
	case "lte":
		return "must be at most " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	default:
		return "is invalid"
	}
}
