package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("1234"))
	assert.Equal(t, "****6789", MaskSecret("256700123456789"))
	assert.Equal(t, "acct_****4321", MaskSecret("acct_987654321"))
}

func TestMaskSensitive(t *testing.T) {
	out := MaskSensitive(map[string]any{
		"phone":  "256700123456",
		"reason": "manual correction",
		"amount": "100.00",
		"nested": map[string]any{"email": "someone@example.com"},
		"":       "dropped",
	})

	assert.Equal(t, "****3456", out["phone"])
	assert.Equal(t, "manual correction", out["reason"])
	assert.Equal(t, "100.00", out["amount"])
	assert.Equal(t, map[string]any{"email": "****.com"}, out["nested"])
	assert.NotContains(t, out, "")
}
