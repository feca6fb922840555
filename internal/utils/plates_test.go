package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePlate(t *testing.T) {
	equivalent := []string{"AB12CD", "ab12cd", "AB 12 CD", "ab-12-cd", " ab 12-cd "}
	for _, input := range equivalent {
		assert.Equal(t, "AB12CD", NormalizePlate(input), input)
	}
}

func TestNormalizePlateEmpty(t *testing.T) {
	assert.Equal(t, "", NormalizePlate(""))
	assert.Equal(t, "", NormalizePlate("  - - "))
}
