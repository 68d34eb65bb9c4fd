package clients

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHyperliquidKey(t *testing.T) {
	key, err := hyperliquidKey("")
	require.NoError(t, err)
	assert.NotNil(t, key)

	const hex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	a, err := hyperliquidKey(hex)
	require.NoError(t, err)
	b, err := hyperliquidKey("0x" + hex)
	require.NoError(t, err)
	assert.Equal(t, a.D, b.D)

	_, err = hyperliquidKey("not-hex")
	assert.Error(t, err)
}
