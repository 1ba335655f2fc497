package flow

import (
	"fmt"
	"strings"

	"github.com/lexbr/intakeflow/internal/models"
)

// BrazilCountryCode is prepended to every normalized phone number.
const BrazilCountryCode = "55"

// stripNonDigits removes every non-digit rune from s.
func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone canonicalizes a Brazilian phone number typed during phone
// collection. Formatting characters are stripped and the result must be 10
// digits (DD + 8-digit number, gets the mobile 9 inserted) or 11 digits
// (DD + 9-digit number). It returns the bare digits as typed and the
// country-code-prefixed canonical form.
func NormalizePhone(raw string) (string, string, error) {
	digits := stripNonDigits(raw)
	switch len(digits) {
	case 10:
		// Legacy 8-digit subscriber number: insert the mobile nine after the
		// area code.
		return digits, BrazilCountryCode + digits[:2] + "9" + digits[2:], nil
	case 11:
		return digits, BrazilCountryCode + digits, nil
	default:
		return "", "", fmt.Errorf("%w: expected 10 or 11 digits, got %d", models.ErrInvalidPhone, len(digits))
	}
}

// NormalizeSubmittedPhone canonicalizes a phone number arriving from the web
// form rather than the chat. The form already constrains the input, so no
// digit-count bounds apply here: 10-digit numbers get the mobile nine
// inserted, anything else is taken as typed. An empty result is rejected.
func NormalizeSubmittedPhone(raw string) (string, string, error) {
	digits := stripNonDigits(raw)
	if digits == "" {
		return "", "", fmt.Errorf("%w: no digits in submitted value", models.ErrInvalidPhone)
	}
	if len(digits) == 10 {
		return digits, BrazilCountryCode + digits[:2] + "9" + digits[2:], nil
	}
	return digits, BrazilCountryCode + digits, nil
}

// FormatPhone renders a canonical number for humans, e.g.
// "5511999998888" becomes "+55 (11) 99999-8888". Unexpected shapes are
// returned prefixed with "+" unchanged.
func FormatPhone(canonical string) string {
	if len(canonical) != 13 || !strings.HasPrefix(canonical, BrazilCountryCode) {
		return "+" + canonical
	}
	dd := canonical[2:4]
	number := canonical[4:]
	return fmt.Sprintf("+%s (%s) %s-%s", BrazilCountryCode, dd, number[:5], number[5:])
}
