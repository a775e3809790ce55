package gorm

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/stcchain/evmpay"
)

// orderRecord is the orders table row.
type orderRecord struct {
	ID        uint64 `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	OrderKey string          `gorm:"type:varchar(64);uniqueIndex"`
	Total    decimal.Decimal `gorm:"type:decimal(36,18)"`
	Currency string          `gorm:"type:varchar(16)"`
	Status   string          `gorm:"type:varchar(16);index"`
	TxHash   string          `gorm:"type:varchar(66);index"`
	PaidAt   *time.Time
	Version  int64 `gorm:"not null;default:1"`

	Notes []noteRecord `gorm:"foreignKey:OrderID"`
}

func (orderRecord) TableName() string { return "orders" }

// noteRecord is an order_notes table row.
type noteRecord struct {
	ID        uint64 `gorm:"primarykey"`
	OrderID   uint64 `gorm:"index"`
	Text      string `gorm:"type:text"`
	CreatedAt time.Time
}

func (noteRecord) TableName() string { return "order_notes" }

func (r *orderRecord) toOrder() *evmpay.Order {
	order := &evmpay.Order{
		ID:        r.ID,
		OrderKey:  r.OrderKey,
		Total:     r.Total,
		Currency:  r.Currency,
		Status:    evmpay.OrderStatus(r.Status),
		TxHash:    r.TxHash,
		PaidAt:    r.PaidAt,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	for _, n := range r.Notes {
		order.Notes = append(order.Notes, evmpay.OrderNote{Text: n.Text, CreatedAt: n.CreatedAt})
	}
	return order
}
