package clients

import (
	"context"
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"
)

// HyperliquidClient exposes the Info API of a Hyperliquid exchange handle.
type HyperliquidClient struct {
	exchange    *hyperliquid.Exchange
	accountAddr string
}

// NewHyperliquidClient builds a client from a hex private key. Market data
// needs no account, so an empty key is replaced by a throwaway one.
func NewHyperliquidClient(privateKeyHex, baseURL string) (*HyperliquidClient, error) {
	privateKey, err := hyperliquidKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("error casting public key to ECDSA")
	}
	accountAddr := crypto.PubkeyToAddress(*pub).Hex()

	// Info and SpotMeta are fetched lazily by the SDK
	ex := hyperliquid.NewExchange(
		context.Background(),
		privateKey,
		baseURL,
		nil,
		"",
		accountAddr,
		nil,
	)
	return &HyperliquidClient{exchange: ex, accountAddr: accountAddr}, nil
}

func hyperliquidKey(hex string) (*ecdsa.PrivateKey, error) {
	if hex == "" {
		key, err := crypto.GenerateKey()
		return key, errors.Wrap(err, "generate hyperliquid key")
	}
	hex = strings.TrimPrefix(strings.TrimPrefix(hex, "0x"), "0X")
	key, err := crypto.HexToECDSA(hex)
	if err != nil {
		return nil, errors.Wrap(err, "parse hyperliquid private key")
	}
	return key, nil
}

func (c *HyperliquidClient) Info() *hyperliquid.Info { return c.exchange.Info() }
func (c *HyperliquidClient) AccountAddress() string  { return c.accountAddr }
