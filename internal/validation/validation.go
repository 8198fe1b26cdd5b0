// Package validation checks request parameters before they reach the aggregator.
package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var (
	ErrLocationEmpty        = errors.New("location is required")
	ErrLocationTooShort     = errors.New("location too short")
	ErrLocationTooLong      = errors.New("location too long")
	ErrLocationInvalidChars = errors.New("location contains invalid characters")

	ErrQueryEmpty        = errors.New("query is required")
	ErrQueryTooLong      = errors.New("query too long")
	ErrQueryInvalidChars = errors.New("query contains non-printable characters")

	ErrDaysNotInteger = errors.New("days must be an integer")
	ErrDaysOutOfRange = errors.New("days out of range")
)

// ValidateLocation trims the input, enforces length bounds (minLen, maxLen in runes; 0 disables),
// and restricts it to letters, digits, space, comma, hyphen, period and apostrophe.
// It returns the trimmed string. Case is preserved.
func ValidateLocation(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	if err := validate.Var(s, lengthTag(minLen, maxLen)); err != nil {
		return "", mapLengthError(err, ErrLocationEmpty, ErrLocationTooShort, ErrLocationTooLong)
	}
	for _, c := range s {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

// ValidateQuery checks a free-text search query. Any printable characters are accepted.
func ValidateQuery(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	if err := validate.Var(s, lengthTag(0, maxLen)); err != nil {
		return "", mapLengthError(err, ErrQueryEmpty, ErrQueryEmpty, ErrQueryTooLong)
	}
	for _, c := range s {
		if !unicode.IsPrint(c) {
			return "", ErrQueryInvalidChars
		}
	}
	return s, nil
}

// ValidateDays parses the days parameter. Empty input yields def.
func ValidateDays(input string, def, maxDays int) (int, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrDaysNotInteger, s)
	}
	tag := "min=1"
	if maxDays > 0 {
		tag = fmt.Sprintf("min=1,max=%d", maxDays)
	}
	if err := validate.Var(n, tag); err != nil {
		return 0, fmt.Errorf("%w: %d not in [1, %d]", ErrDaysOutOfRange, n, maxDays)
	}
	return n, nil
}

func lengthTag(minLen, maxLen int) string {
	tag := "required"
	if minLen > 0 {
		tag += fmt.Sprintf(",min=%d", minLen)
	}
	if maxLen > 0 {
		tag += fmt.Sprintf(",max=%d", maxLen)
	}
	return tag
}

func mapLengthError(err error, empty, short, long error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Tag() {
		case "min":
			return short
		case "max":
			return long
		}
	}
	return empty
}

func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
