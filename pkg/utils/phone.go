package utils

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// Digits with an optional leading plus, once formatting is stripped.
	phoneRegex = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	// Characters commonly used to format phone numbers.
	formattingRegex = regexp.MustCompile(`[\s\-().]`)
)

// NormalizePhoneNumber collapses a user-entered phone number to a canonical
// form: formatting characters removed, the 00 international dialing prefix
// folded into "+". The same logical number always normalizes to the same
// string, so stored values stay comparable across updates.
func NormalizePhoneNumber(phone string) (string, error) {
	if phone == "" {
		return "", errors.New("phone number cannot be empty")
	}

	normalized := formattingRegex.ReplaceAllString(phone, "")

	if strings.HasPrefix(normalized, "00") {
		normalized = "+" + normalized[2:]
	}

	if !phoneRegex.MatchString(normalized) {
		return "", errors.New("invalid phone number format")
	}

	return normalized, nil
}
