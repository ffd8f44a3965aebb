package store

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

const (
	derivedKeyIterations = 10000
	derivedKeyLength     = 32
	saltLength           = 16
)

// NewLocalUser builds a user whose password is stored as a PBKDF2 derived
// key with a random salt.
func NewLocalUser(name, username, password string, now time.Time) (*User, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)
	return &User{
		ID:               uuid.NewString(),
		Type:             TypeUser,
		Name:             name,
		Username:         username,
		DerivedKey:       deriveKey(password, saltHex, derivedKeyIterations),
		Salt:             saltHex,
		Iterations:       derivedKeyIterations,
		Verified:         true,
		Roles:            []string{"user"},
		TimestampCreated: now.UTC(),
	}, nil
}

// CheckPassword reports whether password matches the stored derived key.
func (u *User) CheckPassword(password string) bool {
	if u.DerivedKey == "" || u.Iterations <= 0 {
		return false
	}
	got := deriveKey(password, u.Salt, u.Iterations)
	return subtle.ConstantTimeCompare([]byte(got), []byte(u.DerivedKey)) == 1
}

func deriveKey(password, salt string, iterations int) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(password), []byte(salt), iterations, derivedKeyLength, sha512.New))
}
