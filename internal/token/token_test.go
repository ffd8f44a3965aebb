package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUUIDGenerator(t *testing.T) {
	g := UUIDGenerator{}
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok := g.GenerateAccessToken()
		assert.GreaterOrEqual(t, len(tok), 36)
		assert.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}
}

func TestGeneratorFunc(t *testing.T) {
	g := GeneratorFunc(func() string { return "fixed" })
	assert.Equal(t, "fixed", g.GenerateAccessToken())
}
