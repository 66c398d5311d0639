package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloat(t *testing.T) {
	assert.Equal(t, "1.5", Float(1.5000, 4))
	assert.Equal(t, "62000", Float(62000, 2))
	assert.Equal(t, "0.1235", Float(0.123456, 4))
	assert.Equal(t, "0", Float(-0.00001, 2))
}

func TestUSD(t *testing.T) {
	assert.Equal(t, "12.30", USD(12.3))
	assert.Equal(t, "+1000.00", SignedUSD(1000))
	assert.Equal(t, "-5.50", SignedUSD(-5.5))
}
