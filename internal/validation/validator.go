// Package validation provides request validation using the validator/v10 library.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/listenupapp/circulation-server/internal/domain"
	domainerrors "github.com/listenupapp/circulation-server/internal/errors"
	"github.com/listenupapp/circulation-server/internal/util"
)

var isbnRe = regexp.MustCompile(`^(?:\d{9}[\dX]|\d{13})$`)

// Validator wraps go-playground/validator with domain error conversion.
type Validator struct {
	v *validator.Validate
}

// New creates a validator configured for our domain.
//
// Extra tags:
//
//	isbn            10 or 13 digits once hyphens and spaces are stripped
//	book_status     a known book status
//	catalog_status  a status catalog management may assign (not borrowed)
//	condition       Excellent, Good, Fair or Poor
//	borrower_status active, inactive or suspended
func New() *Validator {
	v := validator.New()

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("json")
		if name == "" {
			return fld.Name
		}
		for i := range len(name) {
			if name[i] == ',' {
				return name[:i]
			}
		}
		return name
	})

	mustRegister(v, "isbn", func(fl validator.FieldLevel) bool {
		return isbnRe.MatchString(util.NormalizeISBN(fl.Field().String()))
	})
	mustRegister(v, "book_status", func(fl validator.FieldLevel) bool {
		return domain.BookStatus(fl.Field().String()).Valid()
	})
	mustRegister(v, "catalog_status", func(fl validator.FieldLevel) bool {
		return domain.BookStatus(fl.Field().String()).CatalogSettable()
	})
	mustRegister(v, "condition", func(fl validator.FieldLevel) bool {
		return domain.Condition(fl.Field().String()).Valid()
	})
	mustRegister(v, "borrower_status", func(fl validator.FieldLevel) bool {
		return domain.BorrowerStatus(fl.Field().String()).Valid()
	})

	return &Validator{v: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// Validate validates a struct and returns a domain error.
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

// formatError converts validator errors to domain errors.
func (v *Validator) formatError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	fieldErrors := make(map[string]string)
	for _, e := range validationErrs {
		fieldErrors[e.Field()] = v.friendlyMessage(e)
	}

	// Lead with the first failing field so single-error responses read naturally.
	first := validationErrs[0]
	msg := fmt.Sprintf("%s %s", first.Field(), fieldErrors[first.Field()])
	return domainerrors.ValidationWithDetails(msg, fieldErrors)
}

//nolint:gocyclo // Switch statement covering validation tags is intentionally exhaustive.
func (v *Validator) friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("must not exceed %s characters", e.Param())
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "isbn":
		return "must be a 10 or 13 digit ISBN"
	case "book_status":
		return "must be one of: available borrowed maintenance lost"
	case "catalog_status":
		return "must be one of: available maintenance lost"
	case "condition":
		return "must be one of: Excellent Good Fair Poor"
	case "borrower_status":
		return "must be one of: active inactive suspended"
	default:
		return "is invalid"
	}
}
