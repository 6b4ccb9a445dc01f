package shared

import (
	"html"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

var (
	textPolicy      = bluemonday.StrictPolicy()
	usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}_.\-]+$`)
)

// SanitizeText strips markup and control characters from free text such as
// remarks. Entities produced by the HTML policy are decoded back so the stored
// value is plain text.
func SanitizeText(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	input = html.UnescapeString(textPolicy.Sanitize(input))
	var b strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// NewValidator returns a validator with the console's custom rules registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}
