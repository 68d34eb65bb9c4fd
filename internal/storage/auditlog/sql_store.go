package auditlog

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vadiminshakov/hive/internal/domain"
)

// TransactionRecord is the relational row of a ledger entry.
type TransactionRecord struct {
	ID          string `gorm:"primaryKey"`
	FromWallet  string `gorm:"index"`
	ToWallet    string `gorm:"index"`
	Type        string `gorm:"index"`
	Amount      string
	Description string
	Timestamp   time.Time `gorm:"index"`
}

// OrderRecord keeps the latest state of an order; the full order is kept as JSON.
type OrderRecord struct {
	ID        string `gorm:"primaryKey"`
	FarmID    string `gorm:"index"`
	AgentID   string `gorm:"index"`
	Symbol    string
	Status    string `gorm:"index"`
	Payload   string
	UpdatedAt time.Time
}

// CoordinationRecord keeps the latest state of a coordination as JSON.
type CoordinationRecord struct {
	ID          string `gorm:"primaryKey"`
	FarmID      string `gorm:"index"`
	Mode        string
	Status      string `gorm:"index"`
	Payload     string
	CompletedAt time.Time
}

// SQLConfig selects the relational backend.
type SQLConfig struct {
	Driver string // sqlite or postgres
	DSN    string
}

// SQLStore mirrors the audit stream into a relational database via gorm.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore opens the database and migrates the audit tables.
func NewSQLStore(cfg SQLConfig) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "hive_audit.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("postgres DSN is required")
		}
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, errors.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s audit database", cfg.Driver)
	}

	return NewSQLStoreFromDB(db)
}

// NewSQLStoreFromDB wraps an existing connection and migrates the audit tables.
func NewSQLStoreFromDB(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&TransactionRecord{}, &OrderRecord{}, &CoordinationRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate audit tables")
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) AppendTransaction(tx domain.Transaction) error {
	rec := TransactionRecord{
		ID:          tx.ID,
		FromWallet:  tx.FromWallet,
		ToWallet:    tx.ToWallet,
		Type:        string(tx.Type),
		Amount:      tx.Amount.String(),
		Description: tx.Description,
		Timestamp:   tx.Timestamp,
	}
	return errors.Wrap(s.db.Create(&rec).Error, "insert transaction")
}

func (s *SQLStore) AppendOrder(order domain.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return errors.Wrap(err, "marshal order")
	}
	rec := OrderRecord{
		ID:        order.ID,
		FarmID:    order.FarmID,
		AgentID:   order.AgentID,
		Symbol:    order.Symbol,
		Status:    string(order.Status),
		Payload:   string(payload),
		UpdatedAt: order.UpdatedAt,
	}
	return errors.Wrap(s.db.Save(&rec).Error, "upsert order")
}

func (s *SQLStore) AppendCoordination(event domain.CoordinationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal coordination")
	}
	rec := CoordinationRecord{
		ID:          event.ID,
		FarmID:      event.FarmID,
		Mode:        string(event.Mode),
		Status:      string(event.Status),
		Payload:     string(payload),
		CompletedAt: event.CompletedAt,
	}
	return errors.Wrap(s.db.Save(&rec).Error, "upsert coordination")
}

// Orders returns the latest stored state of every order of a farm.
func (s *SQLStore) Orders(farmID string) ([]domain.Order, error) {
	var recs []OrderRecord
	if err := s.db.Where("farm_id = ?", farmID).Order("updated_at").Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	orders := make([]domain.Order, 0, len(recs))
	for _, rec := range recs {
		var o domain.Order
		if err := json.Unmarshal([]byte(rec.Payload), &o); err != nil {
			return nil, errors.Wrapf(err, "decode order %s", rec.ID)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
