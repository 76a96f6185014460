package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKeyMaterial(t *testing.T) {
	raw, prefix, hash, err := GenerateAPIKeyMaterial(KeyTypeSecret, KeyModeTest)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, "sk_test_"))
	assert.True(t, strings.HasPrefix(prefix, "sk_test_"))
	assert.True(t, strings.HasSuffix(prefix, "..."))
	assert.Len(t, hash, 64)
	assert.Equal(t, HashAPIKey(raw), hash)

	// Two generations never collide.
	raw2, _, hash2, err := GenerateAPIKeyMaterial(KeyTypeSecret, KeyModeTest)
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
	assert.NotEqual(t, hash, hash2)
}

func TestKeyTypePrefix(t *testing.T) {
	assert.Equal(t, "sk_test_", KeyTypePrefix(KeyTypeSecret, KeyModeTest))
	assert.Equal(t, "sk_live_", KeyTypePrefix(KeyTypeSecret, KeyModeLive))
	assert.Equal(t, "pk_test_", KeyTypePrefix(KeyTypePublishable, KeyModeTest))
	assert.Equal(t, "pk_live_", KeyTypePrefix(KeyTypePublishable, KeyModeLive))
}

func TestMaskKey(t *testing.T) {
	masked := MaskKey("sk_live_ABCDEFGHIJKLMNOP")
	assert.Equal(t, "sk_live_ABCD...", masked)
	assert.NotContains(t, masked, "EFGH")

	// Degenerate inputs pass through untouched.
	assert.Equal(t, "short", MaskKey("short"))
	assert.Equal(t, "sk_live_ab", MaskKey("sk_live_ab"))
}

func TestHashAPIKeyIsDeterministic(t *testing.T) {
	a := HashAPIKey("sk_test_example")
	b := HashAPIKey(" sk_test_example ")
	assert.Equal(t, a, b, "hash ignores surrounding whitespace")
	assert.NotEqual(t, a, HashAPIKey("sk_test_other"))
}
