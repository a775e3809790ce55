// Package gorm provides an SQL-backed order store on gorm, with PostgreSQL
// and MySQL drivers.
package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	gormio "gorm.io/gorm"

	"github.com/stcchain/evmpay"
)

// Store is a gorm-backed evmpay.OrderStore.
//
// MarkPaid is a conditional update on (id, version, status <> 'paid'), so
// two processes racing on one order cannot both mark it paid even without
// a shared OrderGuard.
type Store struct {
	db  *gormio.DB
	now func() time.Time
}

// New creates a store on an open connection. Call AutoMigrate first.
func New(db *gormio.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create inserts a new unpaid order.
func (s *Store) Create(ctx context.Context, orderKey string, total decimal.Decimal, currency string) (*evmpay.Order, error) {
	rec := &orderRecord{
		OrderKey: orderKey,
		Total:    total,
		Currency: currency,
		Status:   string(evmpay.OrderStatusUnpaid),
		Version:  1,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return rec.toOrder(), nil
}

// Find loads an order with its notes.
func (s *Store) Find(ctx context.Context, id uint64) (*evmpay.Order, error) {
	rec, err := s.load(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return rec.toOrder(), nil
}

func (s *Store) load(db *gormio.DB, id uint64) (*orderRecord, error) {
	var rec orderRecord
	err := db.Preload("Notes", func(db *gormio.DB) *gormio.DB {
		return db.Order("id ASC")
	}).First(&rec, id).Error
	if errors.Is(err, gormio.ErrRecordNotFound) {
		return nil, fmt.Errorf("order %d: %w", id, evmpay.ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", id, err)
	}
	return &rec, nil
}

// NeedsPayment reports whether the order is not yet paid.
func (s *Store) NeedsPayment(order *evmpay.Order) bool {
	return order.NeedsPayment()
}

// MarkPending moves an unpaid order to pending and attaches note.
func (s *Store) MarkPending(ctx context.Context, id uint64, note string) (*evmpay.Order, error) {
	var out *evmpay.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gormio.DB) error {
		now := s.now()
		res := tx.Model(&orderRecord{}).
			Where("id = ? AND status <> ?", id, string(evmpay.OrderStatusPaid)).
			Updates(map[string]interface{}{
				"status":     string(evmpay.OrderStatusPending),
				"version":    gormio.Expr("version + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.missedUpdate(tx, id)
		}
		if err := tx.Create(&noteRecord{OrderID: id, Text: note, CreatedAt: now}).Error; err != nil {
			return err
		}
		rec, err := s.load(tx, id)
		if err != nil {
			return err
		}
		out = rec.toOrder()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkPaid transitions the order to paid if the stored row still has the
// version the caller read and is not paid.
func (s *Store) MarkPaid(ctx context.Context, order *evmpay.Order, txHash string, note string) (*evmpay.Order, error) {
	var out *evmpay.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gormio.DB) error {
		now := s.now()
		res := tx.Model(&orderRecord{}).
			Where("id = ? AND version = ? AND status <> ?", order.ID, order.Version, string(evmpay.OrderStatusPaid)).
			Updates(map[string]interface{}{
				"status":     string(evmpay.OrderStatusPaid),
				"tx_hash":    txHash,
				"paid_at":    now,
				"version":    gormio.Expr("version + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.missedUpdate(tx, order.ID)
		}
		if err := tx.Create(&noteRecord{OrderID: order.ID, Text: note, CreatedAt: now}).Error; err != nil {
			return err
		}
		rec, err := s.load(tx, order.ID)
		if err != nil {
			return err
		}
		out = rec.toOrder()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// missedUpdate explains a conditional update that matched no row.
func (s *Store) missedUpdate(tx *gormio.DB, id uint64) error {
	var rec orderRecord
	err := tx.Select("id", "status").First(&rec, id).Error
	if errors.Is(err, gormio.ErrRecordNotFound) {
		return fmt.Errorf("order %d: %w", id, evmpay.ErrOrderNotFound)
	}
	if err != nil {
		return err
	}
	if rec.Status == string(evmpay.OrderStatusPaid) {
		return fmt.Errorf("order %d: %w", id, evmpay.ErrAlreadySettled)
	}
	return fmt.Errorf("order %d: %w", id, evmpay.ErrOrderChanged)
}

var (
	_ evmpay.OrderStore    = (*Store)(nil)
	_ evmpay.PendingMarker = (*Store)(nil)
)
