package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusPreparing = "preparing"
	OrderStatusDelivered = "delivered"
	OrderStatusCanceled  = "canceled"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

const (
	PaymentMethodPix  = "pix"
	PaymentMethodCard = "card"
)

// Order is the checkout record targeted by Pix settlement and by
// checkout/payment webhook events.
type Order struct {
	ID            string    `gorm:"type:char(36);primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	TotalAmount   float64   `gorm:"type:decimal(10,2);not null" json:"total_amount"`
	Status        string    `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	PaymentStatus string    `gorm:"type:varchar(32);not null;default:'pending';index" json:"payment_status"`
	PaymentMethod string    `gorm:"type:varchar(16);not null;default:'pix'" json:"payment_method"`
	Notes         string    `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}
