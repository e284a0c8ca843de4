package accounts

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultPasswordCost is the bcrypt cost used by HashPassword
var DefaultPasswordCost = 12

// BcryptHasher implements PasswordHasher with a fixed cost
type BcryptHasher struct {
	cost      int
	dummyOnce sync.Once
	dummy     string
}

// NewBcryptHasher returns a hasher with the given cost, clamped to the
// range bcrypt accepts.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

// HashPassword will generate a password hash
func (h *BcryptHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	return string(hash), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func (h *BcryptHasher) ComparePasswordAndHash(password, hash string) error {
	return ComparePasswordAndHash(password, hash)
}

// HashPassword hashes with DefaultPasswordCost
func HashPassword(password string) (string, error) {
	return NewBcryptHasher(DefaultPasswordCost).HashPassword(password)
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// DummyHash returns a hash with the hasher's cost that no password matches.
// Comparing against it when an account does not exist keeps the response
// time of a missing account equal to a wrong password.
func (h *BcryptHasher) DummyHash() string {
	h.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("dummy-password-never-matches"), h.cost)
		if err == nil {
			h.dummy = string(hash)
		}
	})
	return h.dummy
}

type dummyHasher interface {
	DummyHash() string
}
