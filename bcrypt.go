package auth

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultPasswordCost is the bcrypt cost used when none is configured
const DefaultPasswordCost = 12

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, DefaultPasswordCost)
}

// HashPasswordWithCost is HashPassword with an explicit bcrypt cost
func HashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultPasswordCost
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return err
	}
	return nil
}

var (
	dummyHashes = map[int]string{}
	dummyHashMu sync.Mutex
)

// dummyHash returns a hash of the given cost to compare against when the
// identifier is unknown, so both paths pay the same bcrypt work.
func dummyHash(cost int) string {
	dummyHashMu.Lock()
	defer dummyHashMu.Unlock()

	if h, ok := dummyHashes[cost]; ok {
		return h
	}

	h, err := HashPasswordWithCost("portal-auth-dummy-password", cost)
	if err != nil {
		h = "$2a$12$C6UzMDM.H6dfI/f/IKcEeO6aZ3ZpJwLeSsl4m7vA9YjE2LJpXm3W."
	}
	dummyHashes[cost] = h
	return h
}
