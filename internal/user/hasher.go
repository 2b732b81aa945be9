package user

import (
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor applied to new password hashes.
const DefaultBcryptCost = 12

// bcrypt consumes at most 72 bytes of input.
const bcryptMaxInput = 72

// PasswordHasher defines the minimal hashing interface.
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	h, err := bcrypt.GenerateFromPassword(clamp(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Verify reports whether pw matches hash. A malformed hash is a mismatch.
func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), clamp(pw)) == nil
}

func clamp(pw string) []byte {
	if len(pw) > bcryptMaxInput {
		return []byte(pw[:bcryptMaxInput])
	}
	return []byte(pw)
}
