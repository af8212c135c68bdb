package router

import (
	apiv1 "github.com/andersonlima/PedeAi/internal/api/v1"
	"github.com/andersonlima/PedeAi/internal/pkg/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
	hub *realtime.Hub
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	apiServer := apiv1.NewAPIServer(h.hub)
	apiv1.RegisterHandlers(v1, apiServer)
}

func NewApiRouter(hub *realtime.Hub) *ApiRouter {
	return &ApiRouter{hub: hub}
}
