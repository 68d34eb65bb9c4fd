package auditlog

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/hive/internal/domain"
)

const (
	DefaultDir   = "./wal/audit"
	segmentLimit = 1000
	maxSegments  = 50

	transactionKeyPrefix  = "tx_"
	orderKeyPrefix        = "order_"
	coordinationKeyPrefix = "coord_"
)

// RecordType tells which payload a Record carries.
type RecordType string

const (
	RecordTransaction  RecordType = "transaction"
	RecordOrder        RecordType = "order"
	RecordCoordination RecordType = "coordination"
)

// Record is one decoded WAL entry.
type Record struct {
	Index        uint64
	Type         RecordType
	Transaction  *domain.Transaction
	Order        *domain.Order
	Coordination *domain.CoordinationEvent
}

// WALStore appends ledger transactions, order snapshots and coordination
// records to a write-ahead log.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed audit store.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "audit_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init audit WAL")
	}

	return &WALStore{wal: wal}, nil
}

// AppendTransaction writes a ledger entry.
func (s *WALStore) AppendTransaction(tx domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("transaction id is required")
	}
	return s.append(transactionKeyPrefix+tx.ID, tx)
}

// AppendOrder writes the current state of an order. An order appears once per
// state change; the last record for an id is its latest state.
func (s *WALStore) AppendOrder(order domain.Order) error {
	if order.ID == "" {
		return fmt.Errorf("order id is required")
	}
	return s.append(orderKeyPrefix+order.ID, order)
}

// AppendCoordination writes a coordination record.
func (s *WALStore) AppendCoordination(event domain.CoordinationEvent) error {
	if event.ID == "" {
		return fmt.Errorf("coordination id is required")
	}
	return s.append(coordinationKeyPrefix+event.ID, event)
}

func (s *WALStore) append(key string, v any) error {
	if s == nil || s.wal == nil {
		return errors.New("audit store is not initialized")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// EventsAfter returns all records written after the provided WAL index.
func (s *WALStore) EventsAfter(index uint64) ([]Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("audit store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]Record, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}

		rec := Record{Index: idx}
		switch {
		case strings.HasPrefix(key, transactionKeyPrefix):
			var tx domain.Transaction
			if err := json.Unmarshal(payload, &tx); err != nil {
				return nil, errors.Wrap(err, "decode transaction")
			}
			rec.Type, rec.Transaction = RecordTransaction, &tx
		case strings.HasPrefix(key, orderKeyPrefix):
			var order domain.Order
			if err := json.Unmarshal(payload, &order); err != nil {
				return nil, errors.Wrap(err, "decode order")
			}
			rec.Type, rec.Order = RecordOrder, &order
		case strings.HasPrefix(key, coordinationKeyPrefix):
			var event domain.CoordinationEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return nil, errors.Wrap(err, "decode coordination")
			}
			rec.Type, rec.Coordination = RecordCoordination, &event
		default:
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("audit store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
