package auditlog

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/hive/internal/domain"
)

func TestWALStore_AppendAndReplay(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC()
	require.NoError(t, store.AppendTransaction(domain.Transaction{
		ID:        "tx-1",
		ToWallet:  "master",
		Type:      domain.TxDeposit,
		Amount:    decimal.NewFromInt(100000),
		Timestamp: now,
	}))
	require.NoError(t, store.AppendOrder(domain.Order{
		ID:       "o-1",
		FarmID:   "farm",
		Symbol:   "BTC/USD",
		Side:     domain.SideBuy,
		Quantity: decimal.NewFromInt(1),
		Status:   domain.OrderFilled,
	}))
	require.NoError(t, store.AppendCoordination(domain.CoordinationEvent{
		ID:     "c-1",
		FarmID: "farm",
		Mode:   domain.ModeConsensus,
		Status: domain.CoordinationCompleted,
	}))

	assert.Equal(t, uint64(3), store.CurrentIndex())

	records, err := store.EventsAfter(0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, RecordTransaction, records[0].Type)
	assert.True(t, records[0].Transaction.Amount.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, RecordOrder, records[1].Type)
	assert.Equal(t, domain.OrderFilled, records[1].Order.Status)
	assert.Equal(t, RecordCoordination, records[2].Type)
	assert.Equal(t, domain.ModeConsensus, records[2].Coordination.Mode)

	tail, err := store.EventsAfter(2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(3), tail[0].Index)
}

func TestWALStore_RequiresIDs(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	assert.Error(t, store.AppendTransaction(domain.Transaction{}))
	assert.Error(t, store.AppendOrder(domain.Order{}))
	assert.Error(t, store.AppendCoordination(domain.CoordinationEvent{}))
	assert.Equal(t, uint64(0), store.CurrentIndex())
}

type failingSink struct{ Discard }

func (failingSink) AppendOrder(domain.Order) error { return errors.New("disk full") }

func TestTee_WritesAllSinksAndReportsFailure(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	tee := Tee{failingSink{}, store}
	err = tee.AppendOrder(domain.Order{ID: "o-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	// the healthy sink still received the record
	assert.Equal(t, uint64(1), store.CurrentIndex())
}
