package models

import "time"

const (
	PixStatusPending = "pending"
	PixStatusPaid    = "paid"
	PixStatusExpired = "expired"
)

// PixExpiryWindow is how long a generated BR Code stays payable.
const PixExpiryWindow = 30 * time.Minute

// PixTransaction is the financial audit record for one generated BR
// Code. Status only moves pending→paid or pending→expired; rows are
// never deleted.
type PixTransaction struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	OrderID   string    `gorm:"type:char(36);not null;index" json:"order_id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Amount    float64   `gorm:"type:decimal(10,2);not null" json:"amount"`
	Payload   string    `gorm:"type:text;not null" json:"payload"`
	Status    string    `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Expired reports whether the payment window has closed for a still
// pending transaction.
func (t *PixTransaction) Expired(now time.Time) bool {
	return t.Status == PixStatusPending && now.After(t.ExpiresAt)
}
