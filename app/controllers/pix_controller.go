package controllers

import (
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/andersonlima/PedeAi/internal/pkg/database"
	"github.com/andersonlima/PedeAi/internal/pkg/pix"
	"github.com/andersonlima/PedeAi/internal/pkg/usercontext"
)

var (
	pixOnce sync.Once
	pixSvc  *pix.Service
)

func getPixService() *pix.Service {
	pixOnce.Do(func() {
		pixSvc = pix.NewServiceFromDB(database.GetDB())
	})
	return pixSvc
}

type createPixRequest struct {
	OrderID string `json:"order_id"`
}

// HandleCreatePixCharge generates a Pix charge for one of the caller's orders.
func HandleCreatePixCharge(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Authentication required"})
	}

	var req createPixRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.OrderID) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "order_id is required"})
	}

	charge, err := getPixService().CreateTransaction(c.Context(), userCtx.UserID, strings.TrimSpace(req.OrderID))
	if err != nil {
		if errors.Is(err, pix.ErrOrderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Order not found"})
		}
		if errors.Is(err, pix.ErrInvalidKey) {
			log.Print("pix charge: PIX_KEY not configured")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Pix is not configured"})
		}
		log.Printf("pix charge: creation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Charge could not be created"})
	}

	return c.Status(fiber.StatusCreated).JSON(charge)
}

// HandlePixStatus reports the current state of a charge, settling or
// expiring it as a side effect when the window has closed.
func HandlePixStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Authentication required"})
	}

	txID := strings.TrimSpace(c.Params("transactionID"))
	if txID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "transaction id is required"})
	}

	res, err := getPixService().CheckStatus(c.Context(), userCtx.UserID, txID)
	if err != nil {
		if errors.Is(err, pix.ErrTransactionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Transaction not found"})
		}
		log.Printf("pix status: check for %s failed: %v", txID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Status could not be determined"})
	}

	return c.JSON(res)
}
