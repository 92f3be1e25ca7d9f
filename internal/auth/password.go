package auth

import (
	"errors"
	"strconv"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// PasswordPolicy is applied to local passwords before hashing.
type PasswordPolicy struct {
	MinLength int
	// MaxLength guards bcrypt, which only reads the first 72 bytes.
	MaxLength int
}

// DefaultPasswordPolicy requires 8+ characters with a letter and a digit or symbol.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8, MaxLength: 72}
}

// Check returns a *ValidationError on the "password" field when pw violates the policy.
func (p PasswordPolicy) Check(pw string) error {
	if len([]rune(pw)) < p.MinLength {
		return invalidField("password", "must be at least "+strconv.Itoa(p.MinLength)+" characters")
	}
	if p.MaxLength > 0 && len(pw) > p.MaxLength {
		return invalidField("password", "must be at most "+strconv.Itoa(p.MaxLength)+" bytes")
	}
	var letter, other bool
	for _, r := range pw {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r), unicode.IsPunct(r), unicode.IsSymbol(r):
			other = true
		}
	}
	if !letter || !other {
		return invalidField("password", "must contain a letter and a digit or symbol")
	}
	return nil
}

// Hasher hashes and verifies passwords with bcrypt.
type Hasher struct {
	cost  int
	dummy []byte
}

// NewHasher returns a bcrypt hasher. Costs outside bcrypt's range fall back
// to bcrypt.DefaultCost.
func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("actorgate-dummy-password"), cost)
	if err != nil {
		return nil, err
	}
	return &Hasher{cost: cost, dummy: dummy}, nil
}

// Hash hashes plaintext password using bcrypt.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares plaintext password with stored hash in constant time.
// A nil hash still burns one comparison so callers cannot time lookups.
func (h *Hasher) Verify(hash *string, password string) bool {
	if hash == nil || *hash == "" {
		_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*hash), []byte(password)) == nil
}
