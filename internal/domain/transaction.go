package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType labels a ledger entry.
type TransactionType string

const (
	TxAllocation       TransactionType = "allocation"
	TxRebalance        TransactionType = "rebalance"
	TxProfitCollection TransactionType = "profit_collection"
	TxDeposit          TransactionType = "deposit"
	TxPnL              TransactionType = "pnl"
)

// Transaction is an immutable ledger entry. FromWallet is empty for external
// deposits and for P&L credited by the market.
type Transaction struct {
	ID          string          `json:"id"`
	FromWallet  string          `json:"from_wallet,omitempty"`
	ToWallet    string          `json:"to_wallet"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}
