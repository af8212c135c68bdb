package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/andersonlima/PedeAi/app/models"
	"gorm.io/gorm"
)

// ErrUserNotResolved means the provider customer has no local user yet.
// Webhook deliveries carrying it are acknowledged and dropped.
var ErrUserNotResolved = errors.New("billing: no local user for provider customer")

// Notifier pushes subscription-change notifications to live client
// sessions. Failures are logged, never propagated.
type Notifier interface {
	NotifySubscriptionChanged(userID uint, sub *models.Subscription) error
}

// CacheInvalidator drops per-user cached access state after the
// canonical record changes, so a cancellation does not stay positively
// cached until the TTL lapses.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID uint) error
}

// Service reconciles provider subscription state into the canonical
// per-user record, from webhook events or a direct provider pull.
type Service struct {
	repo     Repository
	provider ProviderAPI
	plans    PlanConfig
	notifier Notifier
	cache    CacheInvalidator
	now      func() time.Time
}

// NewService creates a billing service from injected collaborators.
// notifier may be nil.
func NewService(repo Repository, provider ProviderAPI, plans PlanConfig, notifier Notifier) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		plans:    plans,
		notifier: notifier,
		now:      time.Now,
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle with
// the provider client and plan mapping read from the environment.
func NewServiceFromDB(db *gorm.DB, notifier Notifier) *Service {
	return NewService(NewRepository(db), NewStripeClientFromEnv(), PlanConfigFromEnv(), notifier)
}

// SetCacheInvalidator wires the access-guard cache in after
// construction; the guard itself pulls through this service, so the two
// cannot be built in one call.
func (s *Service) SetCacheInvalidator(inv CacheInvalidator) {
	s.cache = inv
}

type handlerFunc func(*Service, context.Context, *Event) error

// dispatchTable is the exhaustive handler table over the closed event
// kinds. EventKindUnknown is absent on purpose: the caller acknowledges
// unknown types without work.
var dispatchTable = map[EventKind]handlerFunc{
	EventKindSubscriptionUpsert: (*Service).handleSubscriptionUpsert,
	EventKindInvoice:            (*Service).handleInvoice,
	EventKindCheckoutCompleted:  (*Service).handleCheckoutCompleted,
	EventKindPaymentSucceeded:   (*Service).handlePaymentSucceeded,
	EventKindPaymentFailed:      (*Service).handlePaymentFailed,
}

// Dispatch routes a parsed event to its handler. ErrUnhandledEvent is
// returned for kinds outside the closed set.
func (s *Service) Dispatch(ctx context.Context, ev *Event) error {
	handler, ok := dispatchTable[KindOf(ev.Type)]
	if !ok {
		return ErrUnhandledEvent
	}
	return handler(s, ctx, ev)
}

func (s *Service) handleSubscriptionUpsert(ctx context.Context, ev *Event) error {
	sub, err := ev.Subscription()
	if err != nil {
		return err
	}
	_, err = s.ApplySubscription(ctx, sub, models.SyncSourceWebhook, ev.ID)
	return err
}

// handleInvoice re-resolves the parent subscription and re-enters the
// subscription path, so invoice deliveries arriving before the
// subscription event still converge on current provider state.
func (s *Service) handleInvoice(ctx context.Context, ev *Event) error {
	inv, err := ev.Invoice()
	if err != nil {
		return err
	}
	if strings.TrimSpace(inv.Subscription) == "" {
		return ErrUnhandledEvent
	}
	sub, err := s.provider.GetSubscription(ctx, inv.Subscription)
	if err != nil {
		return err
	}
	_, err = s.ApplySubscription(ctx, sub, models.SyncSourceWebhook, ev.ID)
	return err
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, ev *Event) error {
	cs, err := ev.CheckoutSession()
	if err != nil {
		return err
	}
	// Subscription-mode checkouts are reconciled via their own
	// subscription events; only one-time payments touch orders here.
	if cs.Mode != "payment" {
		return nil
	}
	orderID := strings.TrimSpace(cs.Metadata["order_id"])
	if orderID == "" {
		return errors.New("billing: checkout session missing order_id metadata")
	}
	if cs.PaymentStatus == "paid" {
		return s.repo.UpdateOrderPaymentOutcome(orderID, models.PaymentStatusPaid, models.OrderStatusConfirmed)
	}
	return s.repo.UpdateOrderPaymentOutcome(orderID, models.PaymentStatusFailed, models.OrderStatusPending)
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, ev *Event) error {
	return s.applyPaymentOutcome(ev, true)
}

func (s *Service) handlePaymentFailed(ctx context.Context, ev *Event) error {
	return s.applyPaymentOutcome(ev, false)
}

func (s *Service) applyPaymentOutcome(ev *Event, succeeded bool) error {
	pi, err := ev.PaymentIntent()
	if err != nil {
		return err
	}
	orderID := strings.TrimSpace(pi.Metadata["order_id"])
	if orderID == "" {
		// Payment intents created by subscription invoices carry no
		// order id; nothing to update.
		return nil
	}
	if succeeded {
		return s.repo.UpdateOrderPaymentOutcome(orderID, models.PaymentStatusPaid, models.OrderStatusConfirmed)
	}
	return s.repo.UpdateOrderPaymentOutcome(orderID, models.PaymentStatusFailed, models.OrderStatusPending)
}

// ApplySubscription translates a provider subscription into the
// canonical record. The local user is resolved via the provider
// customer's email; an unresolvable customer yields ErrUserNotResolved.
func (s *Service) ApplySubscription(ctx context.Context, psub *ProviderSubscription, source, eventID string) (*models.Subscription, error) {
	customer, err := s.provider.GetCustomer(ctx, psub.CustomerID)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.FindUserByEmail(customer.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("billing: dropping event for unknown customer email %q", customer.Email)
			return nil, ErrUserNotResolved
		}
		return nil, err
	}
	return s.applyToUser(user.ID, psub, source, eventID)
}

// PullAndReconcile queries the provider directly and overwrites the
// canonical record, used when no webhook has arrived yet or the client
// cache is stale.
func (s *Service) PullAndReconcile(ctx context.Context, userID uint) (*models.Subscription, error) {
	user, err := s.repo.FindUserByID(userID)
	if err != nil {
		return nil, err
	}

	customer, err := s.provider.GetCustomerByEmail(ctx, user.Email)
	if err != nil {
		if errors.Is(err, ErrNoCustomer) {
			return s.writeInactive(userID)
		}
		return nil, err
	}

	psub, err := s.provider.LatestSubscriptionForCustomer(ctx, customer.ID)
	if err != nil {
		if errors.Is(err, ErrNoSubscription) {
			return s.writeInactive(userID)
		}
		return nil, err
	}

	return s.applyToUser(userID, psub, models.SyncSourceManualPull, "")
}

func (s *Service) applyToUser(userID uint, psub *ProviderSubscription, source, eventID string) (*models.Subscription, error) {
	now := s.now()
	planName, planPrice := s.plans.Identify(psub.PriceID(), psub.UnitAmount())

	status := models.SubscriptionStatusInactive
	expiresAt := psub.PeriodEnd()
	// Active requires a future expiry at write time.
	if isEntitlingStatus(psub.Status) && expiresAt != nil && expiresAt.After(now) {
		status = models.SubscriptionStatusActive
	}

	record := &models.Subscription{
		UserID:                 userID,
		Status:                 status,
		PlanName:               planName,
		PlanPrice:              planPrice,
		ProviderSubscriptionID: psub.ID,
		ProviderPriceID:        psub.PriceID(),
		CurrentPeriodStart:     psub.PeriodStart(),
		ExpiresAt:              expiresAt,
		CancelAtPeriodEnd:      psub.CancelAtPeriodEnd,
		SyncSource:             source,
		LastWebhookEventID:     eventID,
		LastSyncedAt:           &now,
	}
	if err := s.repo.UpsertSubscription(record); err != nil {
		return nil, err
	}

	s.invalidateCache(userID)
	s.notify(userID, record)
	return record, nil
}

func (s *Service) writeInactive(userID uint) (*models.Subscription, error) {
	now := s.now()
	record := &models.Subscription{
		UserID:       userID,
		Status:       models.SubscriptionStatusInactive,
		SyncSource:   models.SyncSourceManualPull,
		LastSyncedAt: &now,
	}
	if err := s.repo.UpsertSubscription(record); err != nil {
		return nil, err
	}
	s.invalidateCache(userID)
	s.notify(userID, record)
	return record, nil
}

func (s *Service) notify(userID uint, sub *models.Subscription) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifySubscriptionChanged(userID, sub); err != nil {
		log.Printf("billing: subscription change broadcast failed for user %d: %v", userID, err)
	}
}

// invalidateCache drops the guard's cached entry after a write. Best
// effort: the cache is only an accelerator, the record just written is
// the system of record.
func (s *Service) invalidateCache(userID uint) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		log.Printf("billing: cache invalidation failed for user %d: %v", userID, err)
	}
}

// RecordWebhookEvent persists webhook payloads idempotently. Events
// without a provider id fall back to a payload hash so replayed bodies
// still deduplicate.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("billing: provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("billing: webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}
