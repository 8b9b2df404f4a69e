package credential

import (
	"errors"
	"net/mail"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidEmail is returned when an address cannot be parsed.
var ErrInvalidEmail = errors.New("invalid email address")

var validate = validator.New()

// NormalizeEmail validates input as a bare address (no display name) and
// returns its canonical form: surrounding space trimmed, the local part
// NFC-normalized, the domain lowercased.
func NormalizeEmail(input string) (string, error) {
	s := strings.TrimSpace(input)
	if err := validate.Var(s, "required,email"); err != nil {
		return "", ErrInvalidEmail
	}

	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" {
		return "", ErrInvalidEmail
	}

	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return "", ErrInvalidEmail
	}
	local := norm.NFC.String(addr.Address[:at])
	domain := strings.ToLower(norm.NFC.String(addr.Address[at+1:]))
	return local + "@" + domain, nil
}
