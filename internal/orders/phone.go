package orders

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("phone must be a Kenyan mobile number (07XX, 01XX or 254XXX)")

// NormalizePhone converts local and international forms of a Kenyan mobile
// number to the 2547XXXXXXXX / 2541XXXXXXXX form M-Pesa expects.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		case r == '+' && b.Len() == 0:
		default:
			return "", ErrInvalidPhone
		}
	}

	digits := b.String()
	switch {
	case len(digits) == 10 && digits[0] == '0':
		digits = "254" + digits[1:]
	case len(digits) == 9:
		digits = "254" + digits
	}

	if len(digits) != 12 || !strings.HasPrefix(digits, "254") || (digits[3] != '7' && digits[3] != '1') {
		return "", ErrInvalidPhone
	}
	return digits, nil
}
