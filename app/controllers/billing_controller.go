package controllers

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/andersonlima/PedeAi/app/models"
	"github.com/andersonlima/PedeAi/internal/pkg/billing"
	"github.com/andersonlima/PedeAi/internal/pkg/database"
	"github.com/andersonlima/PedeAi/internal/pkg/env"
	"github.com/andersonlima/PedeAi/internal/pkg/subguard"
	"github.com/andersonlima/PedeAi/internal/pkg/usercontext"
)

var (
	billingNotifier billing.Notifier

	billingOnce sync.Once
	billingSvc  *billing.Service
	guard       *subguard.Guard
)

// SetBillingNotifier wires the realtime hub in before the first request.
func SetBillingNotifier(n billing.Notifier) {
	billingNotifier = n
}

// getBillingService builds the service and its access guard together:
// the guard pulls through the service, and the service drops the
// guard's cached entry whenever it writes a subscription record.
func getBillingService() *billing.Service {
	billingOnce.Do(func() {
		billingSvc = billing.NewServiceFromDB(database.GetDB(), billingNotifier)
		guard = subguard.NewFromEnv(billingSvc)
		billingSvc.SetCacheInvalidator(guard)
	})
	return billingSvc
}

func getGuard() *subguard.Guard {
	getBillingService()
	return guard
}

// HandleBillingWebhook receives provider webhooks. Signature first: an
// unverifiable payload gets a 400 and nothing is recorded. Duplicate
// deliveries and event types we do not handle are acknowledged with a
// 200 so the provider stops retrying.
func HandleBillingWebhook(c *fiber.Ctx) error {
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")
	if secret == "" {
		log.Print("billing webhook: STRIPE_WEBHOOK_SECRET not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Webhook not configured"})
	}

	payload := c.Body()
	signature := c.Get("Stripe-Signature")
	if !billing.VerifyWebhookSignature(payload, signature, secret, time.Now(), billing.DefaultSignatureTolerance) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid signature"})
	}

	ev, err := billing.ParseEvent(payload)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed event payload"})
	}

	svc := getBillingService()
	ctx, cancel := context.WithTimeout(c.Context(), 20*time.Second)
	defer cancel()

	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		PayloadJSON:     string(payload),
	})
	if err != nil {
		log.Printf("billing webhook: recording event failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Event could not be recorded"})
	}
	if !created {
		return c.JSON(fiber.Map{"status": "duplicate"})
	}

	err = svc.Dispatch(ctx, ev)
	switch {
	case errors.Is(err, billing.ErrUnhandledEvent), errors.Is(err, billing.ErrUserNotResolved):
		if markErr := svc.MarkWebhookProcessed(ctx, stored.ID, err); markErr != nil {
			log.Printf("billing webhook: marking event %d failed: %v", stored.ID, markErr)
		}
		return c.JSON(fiber.Map{"status": "ignored"})
	case err != nil:
		log.Printf("billing webhook: processing %s failed: %v", ev.Type, err)
		if markErr := svc.MarkWebhookProcessed(ctx, stored.ID, err); markErr != nil {
			log.Printf("billing webhook: marking event %d failed: %v", stored.ID, markErr)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Event processing failed"})
	}

	if err := svc.MarkWebhookProcessed(ctx, stored.ID, nil); err != nil {
		log.Printf("billing webhook: marking event %d failed: %v", stored.ID, err)
	}
	return c.JSON(fiber.Map{"status": "processed"})
}

// HandleSubscriptionStatus reports the caller's current access state.
func HandleSubscriptionStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Authentication required"})
	}

	res, err := getGuard().CheckSubscription(c.Context(), userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable", "message": "Temporarily unable to verify subscription"})
	}
	return c.JSON(res)
}

type checkoutRequest struct {
	PlanType string `json:"plan_type"`
}

// HandleCreateCheckout creates a hosted checkout session for one of the
// configured plans.
func HandleCreateCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Authentication required"})
	}

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	plans := billing.PlanConfigFromEnv()
	priceID, ok := plans.PriceIDForPlanType(strings.TrimSpace(req.PlanType))
	if !ok || priceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Unknown plan type"})
	}

	client := billing.NewStripeClientFromEnv()
	ctx, cancel := context.WithTimeout(c.Context(), 15*time.Second)
	defer cancel()

	price, err := client.GetPrice(ctx, priceID)
	if err != nil {
		log.Printf("billing checkout: price lookup for %s failed: %v", priceID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "bad_gateway", "message": "Billing provider unavailable"})
	}
	if !price.Active || price.Livemode != client.LiveMode() {
		log.Printf("billing checkout: price %s rejected (active=%t livemode=%t)", priceID, price.Active, price.Livemode)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Plan is misconfigured"})
	}

	checkoutURL, err := client.CreateCheckoutSession(ctx, billing.CheckoutSessionInput{
		PriceID:       priceID,
		CustomerEmail: userCtx.Email,
		SuccessURL:    env.GetEnv("CHECKOUT_SUCCESS_URL", env.GetEnv("PUBLIC_DOMAIN", "")+"/assinatura/sucesso"),
		CancelURL:     env.GetEnv("CHECKOUT_CANCEL_URL", env.GetEnv("PUBLIC_DOMAIN", "")+"/assinatura/cancelado"),
	})
	if err != nil {
		log.Printf("billing checkout: session creation failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "bad_gateway", "message": "Checkout session could not be created"})
	}

	return c.JSON(fiber.Map{"checkout_url": checkoutURL})
}
