package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "恐惧...", Truncate("恐惧贪婪", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
}

func TestSquash(t *testing.T) {
	assert.Equal(t, "a b c", Squash("  a \n\t b   c "))
}
