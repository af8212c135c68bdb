package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/andersonlima/PedeAi/app/models"
	"gorm.io/gorm"
)

type fakeRepo struct {
	users         map[string]*models.User
	usersByID     map[uint]*models.User
	subscriptions map[uint]*models.Subscription
	ledger        map[string]*models.WebhookEvent
	orders        map[string][2]string
	nextEventID   uint
	upserts       int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:         map[string]*models.User{},
		usersByID:     map[uint]*models.User{},
		subscriptions: map[uint]*models.Subscription{},
		ledger:        map[string]*models.WebhookEvent{},
		orders:        map[string][2]string{},
	}
}

func (r *fakeRepo) addUser(id uint, email string) {
	u := &models.User{ID: id, Email: email}
	r.users[email] = u
	r.usersByID[id] = u
}

func (r *fakeRepo) FindUserByEmail(email string) (*models.User, error) {
	if u, ok := r.users[email]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) FindUserByID(id uint) (*models.User, error) {
	if u, ok := r.usersByID[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	if s, ok := r.subscriptions[userID]; ok {
		return s, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) UpsertSubscription(sub *models.Subscription) error {
	r.upserts++
	copied := *sub
	r.subscriptions[sub.UserID] = &copied
	return nil
}

func (r *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + ":" + event.ProviderEventID
	if stored, ok := r.ledger[key]; ok {
		return false, stored, nil
	}
	r.nextEventID++
	event.ID = r.nextEventID
	r.ledger[key] = event
	return true, event, nil
}

func (r *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	for _, ev := range r.ledger {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepo) UpdateOrderPaymentOutcome(orderID, paymentStatus, orderStatus string) error {
	r.orders[orderID] = [2]string{paymentStatus, orderStatus}
	return nil
}

type fakeProvider struct {
	customers     map[string]*Customer
	byEmail       map[string]*Customer
	subscriptions map[string]*ProviderSubscription
	latest        map[string]*ProviderSubscription
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		customers:     map[string]*Customer{},
		byEmail:       map[string]*Customer{},
		subscriptions: map[string]*ProviderSubscription{},
		latest:        map[string]*ProviderSubscription{},
	}
}

func (p *fakeProvider) addCustomer(id, email string) {
	c := &Customer{ID: id, Email: email}
	p.customers[id] = c
	p.byEmail[email] = c
}

func (p *fakeProvider) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	if c, ok := p.customers[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("billing: provider request failed: status=404 customer %s", id)
}

func (p *fakeProvider) GetCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	if c, ok := p.byEmail[email]; ok {
		return c, nil
	}
	return nil, ErrNoCustomer
}

func (p *fakeProvider) GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	if s, ok := p.subscriptions[id]; ok {
		return s, nil
	}
	return nil, ErrNoSubscription
}

func (p *fakeProvider) LatestSubscriptionForCustomer(ctx context.Context, customerID string) (*ProviderSubscription, error) {
	if s, ok := p.latest[customerID]; ok {
		return s, nil
	}
	return nil, ErrNoSubscription
}

func providerSub(id, customerID, status, priceID string, amountCents int64, periodEnd time.Time) *ProviderSubscription {
	sub := &ProviderSubscription{
		ID:               id,
		CustomerID:       customerID,
		Status:           status,
		CurrentPeriodEnd: periodEnd.Unix(),
	}
	sub.Items.Data = []struct {
		Price ProviderPrice `json:"price"`
	}{{Price: ProviderPrice{ID: priceID, UnitAmount: amountCents}}}
	return sub
}

type fakeInvalidator struct {
	dropped []uint
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, userID uint) error {
	f.dropped = append(f.dropped, userID)
	return nil
}

func newTestService(repo Repository, provider ProviderAPI, now time.Time) *Service {
	svc := NewService(repo, provider, testPlanConfig(), nil)
	svc.now = func() time.Time { return now }
	return svc
}

func TestApplySubscriptionActive(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	repo.addUser(7, "maria@example.com")
	provider := newFakeProvider()
	provider.addCustomer("cus_1", "maria@example.com")

	svc := newTestService(repo, provider, now)
	psub := providerSub("sub_1", "cus_1", "active", "price_monthly", 2990, now.Add(30*24*time.Hour))

	record, err := svc.ApplySubscription(context.Background(), psub, models.SyncSourceWebhook, "evt_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != models.SubscriptionStatusActive {
		t.Fatalf("status = %q, want active", record.Status)
	}
	if record.PlanName != PlanNameMonthly || record.PlanPrice != 29.90 {
		t.Fatalf("plan = (%q, %v)", record.PlanName, record.PlanPrice)
	}
	if record.SyncSource != models.SyncSourceWebhook || record.LastWebhookEventID != "evt_1" {
		t.Fatalf("sync stamps wrong: %q %q", record.SyncSource, record.LastWebhookEventID)
	}
	if record.ExpiresAt == nil || !record.ExpiresAt.After(now) {
		t.Fatalf("active record must carry a future expiry, got %v", record.ExpiresAt)
	}
	if record.LastSyncedAt == nil || !record.LastSyncedAt.Equal(now) {
		t.Fatalf("last synced at = %v", record.LastSyncedAt)
	}
}

func TestApplySubscriptionTrialingCountsAsActive(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	repo.addUser(7, "maria@example.com")
	provider := newFakeProvider()
	provider.addCustomer("cus_1", "maria@example.com")

	svc := newTestService(repo, provider, now)
	psub := providerSub("sub_1", "cus_1", "trialing", "price_trial", 0, now.Add(7*24*time.Hour))

	record, err := svc.ApplySubscription(context.Background(), psub, models.SyncSourceWebhook, "evt_2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != models.SubscriptionStatusActive {
		t.Fatalf("status = %q, want active", record.Status)
	}
	if record.PlanName != PlanNameTrial {
		t.Fatalf("plan = %q", record.PlanName)
	}
}

func TestApplySubscriptionNonEntitlingStatuses(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, status := range []string{"canceled", "past_due", "incomplete"} {
		repo := newFakeRepo()
		repo.addUser(7, "maria@example.com")
		provider := newFakeProvider()
		provider.addCustomer("cus_1", "maria@example.com")

		svc := newTestService(repo, provider, now)
		psub := providerSub("sub_1", "cus_1", status, "price_monthly", 2990, now.Add(24*time.Hour))

		record, err := svc.ApplySubscription(context.Background(), psub, models.SyncSourceWebhook, "evt_3")
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", status, err)
		}
		if record.Status != models.SubscriptionStatusInactive {
			t.Fatalf("status %q mapped to %q, want inactive", status, record.Status)
		}
	}
}

func TestApplySubscriptionActiveButExpiredPeriod(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	repo.addUser(7, "maria@example.com")
	provider := newFakeProvider()
	provider.addCustomer("cus_1", "maria@example.com")

	svc := newTestService(repo, provider, now)
	psub := providerSub("sub_1", "cus_1", "active", "price_monthly", 2990, now.Add(-time.Hour))

	record, err := svc.ApplySubscription(context.Background(), psub, models.SyncSourceWebhook, "evt_4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A provider-active subscription whose period already lapsed must
	// not be written as active.
	if record.Status != models.SubscriptionStatusInactive {
		t.Fatalf("status = %q, want inactive", record.Status)
	}
}

func TestApplySubscriptionUnknownUserDropped(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	provider := newFakeProvider()
	provider.addCustomer("cus_1", "stranger@example.com")

	svc := newTestService(repo, provider, now)
	psub := providerSub("sub_1", "cus_1", "active", "price_monthly", 2990, now.Add(24*time.Hour))

	if _, err := svc.ApplySubscription(context.Background(), psub, models.SyncSourceWebhook, "evt_5"); !errors.Is(err, ErrUserNotResolved) {
		t.Fatalf("expected ErrUserNotResolved, got %v", err)
	}
	if repo.upserts != 0 {
		t.Fatalf("no record must be written for unknown users")
	}
}

func TestApplySubscriptionInvalidatesGuardCache(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	repo.addUser(7, "maria@example.com")
	provider := newFakeProvider()
	provider.addCustomer("cus_1", "maria@example.com")

	svc := newTestService(repo, provider, now)
	inv := &fakeInvalidator{}
	svc.SetCacheInvalidator(inv)

	// A cancellation must drop the cached positive entry; otherwise the
	// guard keeps granting access until the TTL lapses.
	psub := providerSub("sub_1", "cus_1", "canceled", "price_monthly", 2990, now.Add(24*time.Hour))
	if _, err := svc.ApplySubscription(context.Background(), psub, models.SyncSourceWebhook, "evt_c"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inv.dropped) != 1 || inv.dropped[0] != 7 {
		t.Fatalf("invalidations = %v, want exactly one for user 7", inv.dropped)
	}

	// The no-subscription pull path writes inactive and must also drop
	// the cached entry.
	if _, err := svc.PullAndReconcile(context.Background(), 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inv.dropped) != 2 || inv.dropped[1] != 7 {
		t.Fatalf("invalidations = %v, want a second drop for user 7", inv.dropped)
	}
}

func TestPullAndReconcile(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	repo.addUser(7, "maria@example.com")
	provider := newFakeProvider()
	provider.addCustomer("cus_1", "maria@example.com")
	provider.latest["cus_1"] = providerSub("sub_1", "cus_1", "active", "price_annual", 29900, now.Add(300*24*time.Hour))

	svc := newTestService(repo, provider, now)
	record, err := svc.PullAndReconcile(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != models.SubscriptionStatusActive || record.PlanName != PlanNameAnnual {
		t.Fatalf("record = (%q, %q)", record.Status, record.PlanName)
	}
	if record.SyncSource != models.SyncSourceManualPull {
		t.Fatalf("sync source = %q, want manual-pull", record.SyncSource)
	}
}

func TestPullAndReconcileNoCustomer(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	repo.addUser(7, "maria@example.com")

	svc := newTestService(repo, newFakeProvider(), now)
	record, err := svc.PullAndReconcile(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != models.SubscriptionStatusInactive {
		t.Fatalf("status = %q, want inactive", record.Status)
	}
	if record.SyncSource != models.SyncSourceManualPull {
		t.Fatalf("sync source = %q", record.SyncSource)
	}
}

func TestRecordWebhookEventIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeProvider(), time.Now())

	in := WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: "evt_replay",
		EventType:       "customer.subscription.updated",
		PayloadJSON:     `{"id":"evt_replay"}`,
	}

	created, first, err := svc.RecordWebhookEvent(context.Background(), in)
	if err != nil || !created {
		t.Fatalf("first delivery: created=%v err=%v", created, err)
	}
	created, second, err := svc.RecordWebhookEvent(context.Background(), in)
	if err != nil {
		t.Fatalf("replay errored: %v", err)
	}
	if created {
		t.Fatalf("replay must not create a second ledger row")
	}
	if first.ID != second.ID {
		t.Fatalf("replay returned a different ledger row: %d vs %d", first.ID, second.ID)
	}
	if len(repo.ledger) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(repo.ledger))
	}
}

func TestRecordWebhookEventHashFallback(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeProvider(), time.Now())

	in := WebhookEventInput{
		Provider:    models.BillingProviderStripe,
		EventType:   "customer.subscription.updated",
		PayloadJSON: `{"no":"id"}`,
	}
	created, stored, err := svc.RecordWebhookEvent(context.Background(), in)
	if err != nil || !created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	if len(stored.ProviderEventID) < 10 || stored.ProviderEventID[:5] != "hash:" {
		t.Fatalf("expected hash fallback id, got %q", stored.ProviderEventID)
	}

	created, _, err = svc.RecordWebhookEvent(context.Background(), in)
	if err != nil || created {
		t.Fatalf("identical body must deduplicate, created=%v err=%v", created, err)
	}
}

func TestDispatchTableExhaustive(t *testing.T) {
	kinds := []EventKind{
		EventKindSubscriptionUpsert,
		EventKindInvoice,
		EventKindCheckoutCompleted,
		EventKindPaymentSucceeded,
		EventKindPaymentFailed,
	}
	for _, k := range kinds {
		if _, ok := dispatchTable[k]; !ok {
			t.Fatalf("dispatch table missing handler for %s", k)
		}
	}
	if _, ok := dispatchTable[EventKindUnknown]; ok {
		t.Fatalf("unknown kind must not be dispatchable")
	}
}

func TestDispatchUnknownEvent(t *testing.T) {
	svc := newTestService(newFakeRepo(), newFakeProvider(), time.Now())
	ev := &Event{ID: "evt_x", Type: "product.created"}
	if err := svc.Dispatch(context.Background(), ev); !errors.Is(err, ErrUnhandledEvent) {
		t.Fatalf("expected ErrUnhandledEvent, got %v", err)
	}
}

func TestDispatchCheckoutCompleted(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeProvider(), time.Now())

	ev, err := ParseEvent([]byte(`{
		"id": "evt_co",
		"type": "checkout.session.completed",
		"data": { "object": {
			"id": "cs_1",
			"mode": "payment",
			"payment_status": "paid",
			"metadata": { "order_id": "ord-123" }
		}}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := svc.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := repo.orders["ord-123"]
	if got[0] != models.PaymentStatusPaid || got[1] != models.OrderStatusConfirmed {
		t.Fatalf("order outcome = %v", got)
	}
}

func TestDispatchPaymentFailed(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeProvider(), time.Now())

	ev, err := ParseEvent([]byte(`{
		"id": "evt_pf",
		"type": "payment_intent.payment_failed",
		"data": { "object": {
			"id": "pi_1",
			"status": "requires_payment_method",
			"metadata": { "order_id": "ord-456" }
		}}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := svc.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := repo.orders["ord-456"]
	if got[0] != models.PaymentStatusFailed {
		t.Fatalf("order outcome = %v", got)
	}
}

func TestDispatchInvoiceReentersSubscription(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	repo.addUser(7, "maria@example.com")
	provider := newFakeProvider()
	provider.addCustomer("cus_1", "maria@example.com")
	provider.subscriptions["sub_9"] = providerSub("sub_9", "cus_1", "active", "price_monthly", 2990, now.Add(24*time.Hour))

	svc := newTestService(repo, provider, now)
	ev, err := ParseEvent([]byte(`{
		"id": "evt_inv",
		"type": "invoice.paid",
		"data": { "object": { "id": "in_1", "customer": "cus_1", "subscription": "sub_9" } }
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := svc.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	sub, err := repo.GetSubscriptionByUserID(7)
	if err != nil {
		t.Fatalf("subscription not written: %v", err)
	}
	if sub.Status != models.SubscriptionStatusActive || sub.LastWebhookEventID != "evt_inv" {
		t.Fatalf("record = (%q, %q)", sub.Status, sub.LastWebhookEventID)
	}
}
