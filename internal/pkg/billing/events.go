package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventKind is the closed set of provider event shapes the ingestor
// handles. Every kind except EventKindUnknown must have a dispatchTable
// entry; the service tests assert exhaustiveness.
type EventKind int

const (
	EventKindUnknown EventKind = iota
	EventKindSubscriptionUpsert
	EventKindInvoice
	EventKindCheckoutCompleted
	EventKindPaymentSucceeded
	EventKindPaymentFailed
)

func (k EventKind) String() string {
	switch k {
	case EventKindSubscriptionUpsert:
		return "subscription_upsert"
	case EventKindInvoice:
		return "invoice"
	case EventKindCheckoutCompleted:
		return "checkout_completed"
	case EventKindPaymentSucceeded:
		return "payment_succeeded"
	case EventKindPaymentFailed:
		return "payment_failed"
	default:
		return "unknown"
	}
}

// KindOf maps a provider event type string to its EventKind.
func KindOf(eventType string) EventKind {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted":
		return EventKindSubscriptionUpsert
	case "invoice.paid",
		"invoice.payment_succeeded",
		"invoice.payment_failed":
		return EventKindInvoice
	case "checkout.session.completed":
		return EventKindCheckoutCompleted
	case "payment_intent.succeeded":
		return EventKindPaymentSucceeded
	case "payment_intent.payment_failed":
		return EventKindPaymentFailed
	default:
		return EventKindUnknown
	}
}

// ErrUnhandledEvent marks event types the platform intentionally
// ignores. The webhook endpoint acknowledges these with 200 so the
// provider never retries them.
var ErrUnhandledEvent = errors.New("billing: unhandled event type")

// ParseEvent decodes the webhook envelope.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("billing: invalid event payload: %w", err)
	}
	if strings.TrimSpace(ev.Type) == "" {
		return nil, errors.New("billing: event payload missing type")
	}
	return &ev, nil
}

func (e *Event) Subscription() (*ProviderSubscription, error) {
	var sub ProviderSubscription
	if err := json.Unmarshal(e.Data.Object, &sub); err != nil {
		return nil, fmt.Errorf("billing: invalid subscription object: %w", err)
	}
	if sub.ID == "" {
		return nil, errors.New("billing: subscription object missing id")
	}
	return &sub, nil
}

func (e *Event) Invoice() (*ProviderInvoice, error) {
	var inv ProviderInvoice
	if err := json.Unmarshal(e.Data.Object, &inv); err != nil {
		return nil, fmt.Errorf("billing: invalid invoice object: %w", err)
	}
	return &inv, nil
}

func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	var cs CheckoutSession
	if err := json.Unmarshal(e.Data.Object, &cs); err != nil {
		return nil, fmt.Errorf("billing: invalid checkout session object: %w", err)
	}
	return &cs, nil
}

func (e *Event) PaymentIntent() (*PaymentIntent, error) {
	var pi PaymentIntent
	if err := json.Unmarshal(e.Data.Object, &pi); err != nil {
		return nil, fmt.Errorf("billing: invalid payment intent object: %w", err)
	}
	return &pi, nil
}
