package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/andersonlima/PedeAi/internal/pkg/realtime"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App, hub *realtime.Hub) {
	setup(app, NewApiRouter(hub))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
