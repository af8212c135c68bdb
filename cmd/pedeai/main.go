package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/andersonlima/PedeAi/app/controllers"
	"github.com/andersonlima/PedeAi/app/repository"
	"github.com/andersonlima/PedeAi/internal/pkg/cache"
	"github.com/andersonlima/PedeAi/internal/pkg/database"
	"github.com/andersonlima/PedeAi/internal/pkg/env"
	"github.com/andersonlima/PedeAi/internal/pkg/pix"
	"github.com/andersonlima/PedeAi/internal/pkg/realtime"
	"github.com/andersonlima/PedeAi/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	repository.InitializeFactory(database.GetDB())
	cache.SetupCache()

	// realtime hub for subscription and order pushes
	hub := realtime.NewHub()
	go hub.Start()
	controllers.SetBillingNotifier(hub)

	// background expiry of overdue Pix charges
	pix.StartExpirySweeper(context.Background(), pix.NewRepository(database.GetDB()), time.Minute)

	app := fiber.New(fiber.Config{
		AppName:      "PedeAi",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// ROUTER
	router.InstallRouter(app, hub)

	return app
}
