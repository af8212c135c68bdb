package repository

import (
	"github.com/andersonlima/PedeAi/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPITokenHash(hash string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	Count() (int64, error)
}

// OrderRepository defines the interface for order-related database operations
type OrderRepository interface {
	Create(order *models.Order) error
	GetByID(id string) (*models.Order, error)
	GetByIDForUser(id string, userID uint) (*models.Order, error)
	GetByUserID(userID uint, offset, limit int) ([]models.Order, error)
	Update(order *models.Order) error
	UpdateStatus(id, status string) error
	Count() (int64, error)
}

// SubscriptionRepository defines the interface for subscription database operations
type SubscriptionRepository interface {
	GetByUserID(userID uint) (*models.Subscription, error)
	Upsert(sub *models.Subscription) error
}

// Repositories holds all repository instances
type Repositories struct {
	User         UserRepository
	Order        OrderRepository
	Subscription SubscriptionRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Order:        NewOrderRepository(db),
		Subscription: NewSubscriptionRepository(db),
	}
}
