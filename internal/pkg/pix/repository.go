package pix

import (
	"time"

	"github.com/andersonlima/PedeAi/app/models"
	"gorm.io/gorm"
)

// Repository provides DB operations used by the payment-code lifecycle.
type Repository interface {
	GetOrderForUser(orderID string, userID uint) (*models.Order, error)
	CreateTransaction(tx *models.PixTransaction) error
	GetTransactionForUser(id string, userID uint) (*models.PixTransaction, error)
	MarkExpired(id string) (bool, error)
	ConfirmPayment(txID, orderID string) (bool, error)
	ExpireOverdue(now time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a pix repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOrderForUser(orderID string, userID uint) (*models.Order, error) {
	var order models.Order
	err := r.db.Where("id = ? AND user_id = ?", orderID, userID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) CreateTransaction(tx *models.PixTransaction) error {
	return r.db.Create(tx).Error
}

func (r *gormRepository) GetTransactionForUser(id string, userID uint) (*models.PixTransaction, error) {
	var tx models.PixTransaction
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// MarkExpired moves a pending transaction to expired. The status guard
// in the WHERE clause makes concurrent polls race-safe: only one writer
// leaves pending.
func (r *gormRepository) MarkExpired(id string) (bool, error) {
	tx := r.db.Model(&models.PixTransaction{}).
		Where("id = ? AND status = ?", id, models.PixStatusPending).
		Update("status", models.PixStatusExpired)
	return tx.RowsAffected > 0, tx.Error
}

// ConfirmPayment writes the transaction and the linked order inside one
// database transaction: both move or neither does.
func (r *gormRepository) ConfirmPayment(txID, orderID string) (bool, error) {
	moved := false
	err := r.db.Transaction(func(db *gorm.DB) error {
		res := db.Model(&models.PixTransaction{}).
			Where("id = ? AND status = ?", txID, models.PixStatusPending).
			Update("status", models.PixStatusPaid)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another poll already settled or expired it.
			return nil
		}
		moved = true
		return db.Model(&models.Order{}).Where("id = ?", orderID).Updates(map[string]interface{}{
			"payment_status": models.PaymentStatusPaid,
			"status":         models.OrderStatusConfirmed,
		}).Error
	})
	return moved, err
}

func (r *gormRepository) ExpireOverdue(now time.Time) (int64, error) {
	tx := r.db.Model(&models.PixTransaction{}).
		Where("status = ? AND expires_at < ?", models.PixStatusPending, now).
		Update("status", models.PixStatusExpired)
	return tx.RowsAffected, tx.Error
}
