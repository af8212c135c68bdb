package apiv1

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/andersonlima/PedeAi/app/controllers"
	"github.com/andersonlima/PedeAi/internal/pkg/middleware"
	"github.com/andersonlima/PedeAi/internal/pkg/realtime"
	"github.com/andersonlima/PedeAi/internal/pkg/usercontext"
)

// APIServer implements the v1 API surface
type APIServer struct {
	hub *realtime.Hub
}

// NewAPIServer creates a new API server instance
func NewAPIServer(hub *realtime.Hub) *APIServer {
	return &APIServer{hub: hub}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
}

// PostBillingWebhook receives billing provider webhooks.
// Authenticated by signature, not by API token.
func (s *APIServer) PostBillingWebhook(c *fiber.Ctx) error {
	return controllers.HandleBillingWebhook(c)
}

// GetBillingSubscription reports the caller's subscription state.
func (s *APIServer) GetBillingSubscription(c *fiber.Ctx) error {
	return controllers.HandleSubscriptionStatus(c)
}

// PostBillingCheckout creates a hosted checkout session.
func (s *APIServer) PostBillingCheckout(c *fiber.Ctx) error {
	return controllers.HandleCreateCheckout(c)
}

// PostPixCharge creates a Pix charge for an order.
func (s *APIServer) PostPixCharge(c *fiber.Ctx) error {
	return controllers.HandleCreatePixCharge(c)
}

// GetPixStatus reports the state of a Pix charge.
func (s *APIServer) GetPixStatus(c *fiber.Ctx) error {
	return controllers.HandlePixStatus(c)
}

// RegisterHandlers wires the v1 routes onto the given group.
func RegisterHandlers(v1 fiber.Router, s *APIServer) {
	v1.Get("/ping", s.GetPing)
	v1.Post("/billing/webhook", s.PostBillingWebhook)

	auth := middleware.APITokenAuthMiddleware()
	v1.Get("/billing/subscription", auth, s.GetBillingSubscription)
	v1.Post("/billing/checkout", auth, s.PostBillingCheckout)
	v1.Post("/payments/pix", auth, s.PostPixCharge)
	v1.Get("/payments/pix/:transactionID", auth, s.GetPixStatus)

	upgradeCheck := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
	v1.Get("/ws", auth, upgradeCheck, websocket.New(func(conn *websocket.Conn) {
		userID, ok := conn.Locals(usercontext.KeyUserID).(uint)
		if !ok || userID == 0 {
			conn.Close()
			return
		}
		s.hub.Serve(userID, conn)
	}))
}
