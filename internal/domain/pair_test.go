package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePair(t *testing.T) {
	tests := []struct {
		in   string
		want Pair
	}{
		{in: "BTC/USD", want: Pair{From: "BTC", To: "USD"}},
		{in: "eth-usdt", want: Pair{From: "ETH", To: "USDT"}},
		{in: "SOL_USD", want: Pair{From: "SOL", To: "USD"}},
		{in: "AAPL", want: Pair{From: "AAPL", To: "USD"}},
	}
	for _, tt := range tests {
		got, err := ParsePair(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	for _, bad := range []string{"", " ", "/USD", "BTC/"} {
		_, err := ParsePair(bad)
		assert.Error(t, err, bad)
	}

	p := Pair{From: "BTC", To: "USD"}
	assert.Equal(t, "BTC/USD", p.String())
	assert.Equal(t, "BTCUSD", p.Symbol())
}
