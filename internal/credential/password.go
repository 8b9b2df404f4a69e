package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// ErrWeakPassword is the sentinel every *WeakPasswordError unwraps to.
var ErrWeakPassword = errors.New("weak password")

const (
	// MinPasswordLength is the minimum number of characters in a password.
	MinPasswordLength = 9

	// bcryptMaxBytes is the bcrypt input limit. Longer passwords are
	// pre-hashed before they reach bcrypt.
	bcryptMaxBytes = 72

	// SpecialChars is the set a password must draw at least one character from.
	SpecialChars = `@_!#$%^&*()<>?/\|}{~:`

	suggestionLength = 16
)

// Weak password reasons, reported to callers as machine-readable codes.
const (
	ReasonTooShort         = "too_short"
	ReasonMissingDigit     = "missing_digit"
	ReasonMissingUppercase = "missing_uppercase"
	ReasonMissingSpecial   = "missing_special"
)

// WeakPasswordError describes why a password was rejected and carries a
// freshly generated password that satisfies the policy.
type WeakPasswordError struct {
	Reason     string
	Suggestion string
}

func (e *WeakPasswordError) Error() string {
	return fmt.Sprintf("%s: %s", ErrWeakPassword, reasonText(e.Reason))
}

func (e *WeakPasswordError) Unwrap() error { return ErrWeakPassword }

func reasonText(reason string) string {
	switch reason {
	case ReasonTooShort:
		return fmt.Sprintf("the password must be at least %d characters long", MinPasswordLength)
	case ReasonMissingDigit:
		return "the password must have at least one digit in it"
	case ReasonMissingUppercase:
		return "the password must have at least one uppercase letter"
	case ReasonMissingSpecial:
		return "the password must have at least one special character"
	default:
		return reason
	}
}

// ValidatePassword checks password against the strength policy. Rules are
// evaluated in a fixed order and the first failure is reported.
func ValidatePassword(password string) error {
	reason := ""
	switch {
	case utf8.RuneCountInString(password) < MinPasswordLength:
		reason = ReasonTooShort
	case !strings.ContainsFunc(password, isDigitASCII):
		reason = ReasonMissingDigit
	case !strings.ContainsFunc(password, isUpperASCII):
		reason = ReasonMissingUppercase
	case !strings.ContainsAny(password, SpecialChars):
		reason = ReasonMissingSpecial
	}
	if reason == "" {
		return nil
	}
	return &WeakPasswordError{Reason: reason, Suggestion: GeneratePassword()}
}

func isUpperASCII(r rune) bool { return r >= 'A' && r <= 'Z' }
func isDigitASCII(r rune) bool { return r >= '0' && r <= '9' }

const (
	lowerChars = "abcdefghijkmnopqrstuvwxyz"
	upperChars = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars = "23456789"
)

// GeneratePassword returns a random password that passes ValidatePassword.
// Look-alike characters (l, I, O, 0, 1) are left out of the alphabet.
func GeneratePassword() string {
	all := lowerChars + upperChars + digitChars + SpecialChars
	buf := []byte{
		pick(lowerChars),
		pick(upperChars),
		pick(digitChars),
		pick(SpecialChars),
	}
	for len(buf) < suggestionLength {
		buf = append(buf, pick(all))
	}
	// Fisher-Yates so the guaranteed classes are not always in front.
	for i := len(buf) - 1; i > 0; i-- {
		j := randIndex(i + 1)
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

func pick(alphabet string) byte {
	return alphabet[randIndex(len(alphabet))]
}

func randIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("credential: crypto/rand unavailable: " + err.Error())
	}
	return int(v.Int64())
}

// Policy hashes credentials. The zero value uses bcrypt.DefaultCost.
type Policy struct {
	Cost int
}

// HashPassword returns a salted bcrypt hash of plain. Hashing the same input
// twice yields different hashes.
func (p Policy) HashPassword(plain string) (string, error) {
	cost := p.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword(bcryptInput(plain), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether plain matches a hash produced by HashPassword.
func Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(plain)) == nil
}

// bcryptInput returns plain unchanged when bcrypt accepts it, and the base64
// SHA-256 digest of plain otherwise.
func bcryptInput(plain string) []byte {
	if len(plain) <= bcryptMaxBytes {
		return []byte(plain)
	}
	sum := sha256.Sum256([]byte(plain))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}
