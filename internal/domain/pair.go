package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// Pair is a trading pair such as BTC/USD.
type Pair struct {
	// From is the base currency.
	From string
	// To is the quote currency.
	To string
}

// ParsePair reads "BTC/USD", "BTC-USD" or "BTC_USD". A symbol without a
// separator (equities such as AAPL) is quoted in USD.
func ParsePair(symbol string) (Pair, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return Pair{}, errors.New("empty symbol")
	}
	for _, sep := range []string{"/", "-", "_"} {
		if base, quote, ok := strings.Cut(s, sep); ok {
			if base == "" || quote == "" {
				return Pair{}, errors.Errorf("malformed symbol %q", symbol)
			}
			return Pair{From: base, To: quote}, nil
		}
	}
	return Pair{From: s, To: "USD"}, nil
}

// String returns the pair in BASE/QUOTE form.
func (p Pair) String() string {
	return p.From + "/" + p.To
}

// Symbol returns the concatenated exchange symbol, e.g. BTCUSD.
func (p Pair) Symbol() string {
	return p.From + p.To
}

// WithQuote returns the pair with its quote replaced when it equals from.
// Exchanges that list USDT instead of USD use it to map symbols.
func (p Pair) WithQuote(from, to string) Pair {
	if p.To == from {
		p.To = to
	}
	return p
}
