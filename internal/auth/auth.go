// Package auth checks the passwords ESMEs bind with.
package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// Cost factor for hashing. SMPP passwords are at most 8 characters, so
	// hashing is the only protection a leaked SERVER_USERS value has.
	bcryptCostFactor = 12
)

// HashPassword generates a bcrypt hash for the given password.
func HashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCostFactor)
	if err != nil {
		slog.Error("Failed to generate bcrypt hash for password", slog.Any("error", err))
		return "", err
	}
	return string(hashedBytes), nil
}

// IsHash reports whether stored looks like a bcrypt hash.
func IsHash(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$")
}

// CheckPassword compares a plaintext password with a stored value, which
// is either a bcrypt hash or the password itself.
func CheckPassword(password, stored string) bool {
	if !IsHash(stored) {
		return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
	}
	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
	if err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			slog.Error("Error comparing password hash", slog.Any("error", err))
		}
		return false
	}
	return true
}
