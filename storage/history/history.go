// Package history persists committed conversions for querying and export.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"convertnet/core/events"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultListLimit = 100
	maxListLimit     = 1000
)

// ConversionRecord is one committed conversion hop.
type ConversionRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TradeID      string    `gorm:"index" json:"tradeId"`
	Converter    string    `gorm:"index" json:"converter"`
	Source       string    `json:"source"`
	Target       string    `json:"target"`
	Trader       string    `gorm:"index" json:"trader"`
	AmountIn     string    `json:"amountIn"`
	AmountOut    string    `json:"amountOut"`
	Fee          string    `json:"fee"`
	NetworkFee   string    `json:"networkFee"`
	AffiliateFee string    `json:"affiliateFee"`
	CreatedAt    time.Time `gorm:"index" json:"createdAt"`
}

// TableName pins the table name.
func (ConversionRecord) TableName() string { return "conversions" }

// BeforeCreate assigns an identifier when none is set.
func (r *ConversionRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Trader    string
	Converter string
	TradeID   string
	Limit     int
}

// Store records conversions delivered through the event emitter.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// Open connects to the history database and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("history: postgres dsn required")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("history: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	return New(db)
}

// New wraps an open gorm handle.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("history: database required")
	}
	if err := db.AutoMigrate(&ConversionRecord{}); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db, logger: slog.Default(), now: time.Now}, nil
}

// SetLogger overrides the default logger.
func (s *Store) SetLogger(l *slog.Logger) {
	if s == nil || l == nil {
		return
	}
	s.logger = l
}

// SetClock overrides the time stamped on new records.
func (s *Store) SetClock(now func() time.Time) {
	if s == nil || now == nil {
		return
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Only conversions are stored.
func (s *Store) Emit(evt events.Event) {
	if s == nil {
		return
	}
	conv, ok := evt.(events.Conversion)
	if !ok {
		return
	}
	if err := s.Record(context.Background(), conv); err != nil {
		s.logger.Error("history: record conversion",
			slog.String("trade_id", conv.TradeID),
			slog.Any("error", err))
	}
}

// Record stores a single conversion.
func (s *Store) Record(ctx context.Context, conv events.Conversion) error {
	s.mu.Lock()
	stamp := s.now().UTC()
	s.mu.Unlock()
	rec := &ConversionRecord{
		TradeID:      conv.TradeID,
		Converter:    conv.Converter.Hex(),
		Source:       conv.Source.Hex(),
		Target:       conv.Target.Hex(),
		Trader:       conv.Trader.Hex(),
		AmountIn:     decimal(conv.AmountIn),
		AmountOut:    decimal(conv.AmountOut),
		Fee:          decimal(conv.Fee),
		NetworkFee:   decimal(conv.NetworkFee),
		AffiliateFee: decimal(conv.AffiliateFee),
		CreatedAt:    stamp,
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// List returns matching records, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]ConversionRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := s.db.WithContext(ctx).Model(&ConversionRecord{})
	if f.Trader != "" {
		query = query.Where("trader = ?", f.Trader)
	}
	if f.Converter != "" {
		query = query.Where("converter = ?", f.Converter)
	}
	if f.TradeID != "" {
		query = query.Where("trade_id = ?", f.TradeID)
	}
	var out []ConversionRecord
	if err := query.Order("created_at desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

func (s *Store) window(ctx context.Context, from, to time.Time) ([]ConversionRecord, error) {
	query := s.db.WithContext(ctx).Model(&ConversionRecord{})
	if !from.IsZero() {
		query = query.Where("created_at >= ?", from.UTC())
	}
	if !to.IsZero() {
		query = query.Where("created_at < ?", to.UTC())
	}
	var out []ConversionRecord
	if err := query.Order("created_at asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("history: window: %w", err)
	}
	return out, nil
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
