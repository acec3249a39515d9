// Package validation checks storefront drafts before anything touches the
// network. It never suspends and keeps no audit trail.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"beyondink/internal/models"
)

// Intentionally loose; do not tighten into an RFC check.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// FieldErrors maps a draft field (by its JSON name) to a human-readable message.
// An empty map means the draft is submittable.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, fe[k]))
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}

// FieldValidator validates drafts of every form kind.
type FieldValidator struct {
	validate *validator.Validate
}

// New builds a FieldValidator with the storefront's custom rules registered.
func New() (*FieldValidator, error) {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	rules := map[string]validator.Func{
		"notblank":   notBlank,
		"looseemail": looseEmail,
		"mintrim":    minTrimmed,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return nil, fmt.Errorf("failed to register %q validation: %w", tag, err)
		}
	}
	return &FieldValidator{validate: v}, nil
}

// Validate returns the field errors for draft, one message per failing field.
func (fv *FieldValidator) Validate(draft models.Draft) FieldErrors {
	out := FieldErrors{}
	err := fv.validate.Struct(draft)
	if err == nil {
		return out
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["form"] = "Invalid submission"
		return out
	}
	for _, e := range verrs {
		out[e.Field()] = message(draft.FormKind(), e.Field(), e.Tag())
	}
	return out
}

// IsValidEmail applies the same loose email check the forms use.
func IsValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func looseEmail(fl validator.FieldLevel) bool {
	return emailPattern.MatchString(fl.Field().String())
}

func minTrimmed(fl validator.FieldLevel) bool {
	n, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return utf8.RuneCountInString(strings.TrimSpace(fl.Field().String())) >= n
}
