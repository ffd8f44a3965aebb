// Package token mints opaque access-token strings.
package token

import "github.com/google/uuid"

// Generator produces a fresh access-token string on every call.
type Generator interface {
	GenerateAccessToken() string
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func() string

func (f GeneratorFunc) GenerateAccessToken() string { return f() }

// UUIDGenerator returns random (version 4) UUID strings, 36 characters long.
type UUIDGenerator struct{}

func (UUIDGenerator) GenerateAccessToken() string {
	return uuid.NewString()
}
