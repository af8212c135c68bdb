package billing

import (
	"encoding/json"
	"time"
)

// Event is the provider webhook envelope. Data.Object stays raw until
// the dispatch table decodes it into the shape matching the event kind.
type Event struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Livemode bool   `json:"livemode"`
	Data     struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ProviderSubscription mirrors the provider's subscription object.
type ProviderSubscription struct {
	ID                 string `json:"id"`
	CustomerID         string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			Price ProviderPrice `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID returns the price identifier of the first subscription item.
func (s *ProviderSubscription) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// UnitAmount returns the charged amount in cents of the first item.
func (s *ProviderSubscription) UnitAmount() int64 {
	if len(s.Items.Data) == 0 {
		return 0
	}
	return s.Items.Data[0].Price.UnitAmount
}

func (s *ProviderSubscription) PeriodStart() *time.Time {
	return unixTimePtr(s.CurrentPeriodStart)
}

func (s *ProviderSubscription) PeriodEnd() *time.Time {
	return unixTimePtr(s.CurrentPeriodEnd)
}

// ProviderPrice mirrors the provider's price object.
type ProviderPrice struct {
	ID         string `json:"id"`
	Active     bool   `json:"active"`
	Livemode   bool   `json:"livemode"`
	UnitAmount int64  `json:"unit_amount"`
	Recurring  struct {
		Interval string `json:"interval"`
	} `json:"recurring"`
}

// ProviderInvoice carries the fields needed to re-resolve the parent
// subscription of an invoice event.
type ProviderInvoice struct {
	ID           string `json:"id"`
	CustomerID   string `json:"customer"`
	Subscription string `json:"subscription"`
}

// CheckoutSession mirrors the provider's checkout session object.
type CheckoutSession struct {
	ID            string            `json:"id"`
	CustomerID    string            `json:"customer"`
	CustomerEmail string            `json:"customer_email"`
	Mode          string            `json:"mode"`
	PaymentStatus string            `json:"payment_status"`
	Subscription  string            `json:"subscription"`
	Metadata      map[string]string `json:"metadata"`
}

// PaymentIntent mirrors the provider's payment intent object. The order
// id travels in metadata.
type PaymentIntent struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// Customer mirrors the provider's customer object.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
}

func unixTimePtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
