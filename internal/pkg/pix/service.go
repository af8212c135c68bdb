package pix

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/andersonlima/PedeAi/app/models"
	"github.com/andersonlima/PedeAi/internal/pkg/env"
	"github.com/skip2/go-qrcode"
	"gorm.io/gorm"
)

var (
	// ErrOrderNotFound is returned when the order does not exist or
	// belongs to another user.
	ErrOrderNotFound = errors.New("pix: order not found")
	// ErrTransactionNotFound is returned when the transaction does not
	// exist or belongs to another user.
	ErrTransactionNotFound = errors.New("pix: transaction not found")
)

// MerchantConfig holds the receiving side of every generated charge.
type MerchantConfig struct {
	Key  string
	Name string
	City string
}

// MerchantConfigFromEnv reads PIX_KEY, PIX_MERCHANT_NAME and
// PIX_MERCHANT_CITY.
func MerchantConfigFromEnv() MerchantConfig {
	name := env.GetEnv("PIX_MERCHANT_NAME", "PedeAi")
	city := env.GetEnv("PIX_MERCHANT_CITY", "Sao Paulo")
	return MerchantConfig{
		Key:  env.GetEnv("PIX_KEY", ""),
		Name: name,
		City: city,
	}
}

// SettlementChecker answers whether a pending charge has been paid.
type SettlementChecker interface {
	Confirmed(ctx context.Context, tx *models.PixTransaction) (bool, error)
}

// Service manages the lifecycle of Pix charges: creation, status
// polling and the pending->paid / pending->expired transitions.
type Service struct {
	repo     Repository
	merchant MerchantConfig
	checker  SettlementChecker
	now      func() time.Time
}

func NewService(repo Repository, merchant MerchantConfig, checker SettlementChecker) *Service {
	return &Service{
		repo:     repo,
		merchant: merchant,
		checker:  checker,
		now:      time.Now,
	}
}

// NewServiceFromDB wires the service with the GORM repository and the
// environment-selected settlement checker.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), MerchantConfigFromEnv(), NewSettlementCheckerFromEnv())
}

// Charge is what the client needs to present a Pix payment.
type Charge struct {
	TransactionID string    `json:"transaction_id"`
	BRCode        string    `json:"br_code"`
	QRCode        string    `json:"qr_code"`
	Amount        float64   `json:"amount"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// StatusResult reports the current state of a charge.
type StatusResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func statusMessage(status string) string {
	switch status {
	case models.PixStatusPaid:
		return "Pagamento confirmado"
	case models.PixStatusExpired:
		return "Código Pix expirado. Gere um novo código para pagar."
	default:
		return "Aguardando pagamento"
	}
}

func last8(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[len(s)-8:]
}

// CreateTransaction builds a BR Code for the given order, persists the
// pending transaction and returns the charge with an inline QR image.
// The order must belong to userID.
func (s *Service) CreateTransaction(ctx context.Context, userID uint, orderID string) (*Charge, error) {
	order, err := s.repo.GetOrderForUser(orderID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load order: %w", err)
	}

	now := s.now()
	txID := fmt.Sprintf("PIX-%d-%s", now.UnixMilli(), last8(order.ID))

	payload, err := BuildPayload(Payment{
		Key:    s.merchant.Key,
		Name:   s.merchant.Name,
		City:   s.merchant.City,
		Amount: order.TotalAmount,
		TxID:   txID,
	})
	if err != nil {
		return nil, fmt.Errorf("build payload: %w", err)
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	tx := &models.PixTransaction{
		ID:        txID,
		OrderID:   order.ID,
		UserID:    userID,
		Amount:    order.TotalAmount,
		Payload:   payload,
		Status:    models.PixStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(models.PixExpiryWindow),
	}
	if err := s.repo.CreateTransaction(tx); err != nil {
		return nil, fmt.Errorf("persist transaction: %w", err)
	}

	return &Charge{
		TransactionID: tx.ID,
		BRCode:        payload,
		QRCode:        "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		Amount:        tx.Amount,
		ExpiresAt:     tx.ExpiresAt,
	}, nil
}

// CheckStatus reports the state of a charge. Terminal states are
// returned as stored. For pending charges expiry wins over settlement:
// an overdue charge is expired before the settlement source is asked,
// so a charge can never go expired->paid.
func (s *Service) CheckStatus(ctx context.Context, userID uint, txID string) (*StatusResult, error) {
	tx, err := s.repo.GetTransactionForUser(txID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("load transaction: %w", err)
	}

	if tx.Status != models.PixStatusPending {
		return &StatusResult{Status: tx.Status, Message: statusMessage(tx.Status)}, nil
	}

	if tx.Expired(s.now()) {
		if _, err := s.repo.MarkExpired(tx.ID); err != nil {
			return nil, fmt.Errorf("mark expired: %w", err)
		}
		return &StatusResult{Status: models.PixStatusExpired, Message: statusMessage(models.PixStatusExpired)}, nil
	}

	confirmed, err := s.checker.Confirmed(ctx, tx)
	if err != nil {
		log.Printf("[PIX] settlement check failed for %s: %v", tx.ID, err)
		return &StatusResult{Status: models.PixStatusPending, Message: statusMessage(models.PixStatusPending)}, nil
	}
	if !confirmed {
		return &StatusResult{Status: models.PixStatusPending, Message: statusMessage(models.PixStatusPending)}, nil
	}

	moved, err := s.repo.ConfirmPayment(tx.ID, tx.OrderID)
	if err != nil {
		return nil, fmt.Errorf("confirm payment: %w", err)
	}
	if !moved {
		// Lost the race; report whatever state won.
		fresh, err := s.repo.GetTransactionForUser(txID, userID)
		if err != nil {
			return nil, fmt.Errorf("reload transaction: %w", err)
		}
		return &StatusResult{Status: fresh.Status, Message: statusMessage(fresh.Status)}, nil
	}
	return &StatusResult{Status: models.PixStatusPaid, Message: statusMessage(models.PixStatusPaid)}, nil
}
