package models

import "time"

const (
	SubscriptionStatusInactive = "inactive"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusError    = "error"
)

const (
	SyncSourceWebhook    = "webhook"
	SyncSourceManualPull = "manual-pull"
)

// Subscription is the canonical per-user subscription record. It is
// created with status inactive on signup and afterwards mutated only by
// the reconciler, never deleted.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'inactive';index" json:"status"`
	PlanName               string     `gorm:"type:varchar(100);not null;default:''" json:"plan_name"`
	PlanPrice              float64    `gorm:"type:decimal(10,2);not null;default:0" json:"plan_price"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;default:'';index" json:"provider_subscription_id"`
	ProviderPriceID        string     `gorm:"type:varchar(191);not null;default:''" json:"provider_price_id"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	ExpiresAt              *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	SyncSource             string     `gorm:"type:varchar(16);not null;default:'webhook'" json:"sync_source"`
	LastWebhookEventID     string     `gorm:"type:varchar(191);not null;default:''" json:"last_webhook_event_id"`
	LastSyncedAt           *time.Time `gorm:"type:timestamp;default:null" json:"last_synced_at,omitempty"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsSubscribed reports whether the record currently grants access.
// Expiry is re-checked at read time; a record written as active may have
// lapsed since the last sync.
func (s *Subscription) IsSubscribed(now time.Time) bool {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusTrialing {
		return false
	}
	if s.ExpiresAt == nil {
		return false
	}
	return s.ExpiresAt.After(now)
}
