package identity

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministic(t *testing.T) {
	a := Hash("jdoe01")
	b := Hash("jdoe01")
	c := Hash("jdoe02")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), a)
}

func TestNewAnonymousIDShape(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-z]{6}[0-9]{2}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewAnonymousID()
		require.NoError(t, err)
		assert.Regexp(t, pattern, id)
		seen[id] = true
	}
	// 100 draws from a large space should not all collide.
	assert.Greater(t, len(seen), 1)
}
