package repository

import (
	"github.com/vutran/payrec/app/models"
	"gorm.io/gorm"
)

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates an order repository backed by GORM.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(order *models.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	return r.db.Create(order).Error
}

func (r *orderRepository) GetByCode(orderCode string) (*models.Order, error) {
	return models.FindOrderByCode(r.db, orderCode)
}

func (r *orderRepository) AttachLinkedEntity(orderCode, entityID string) error {
	order, err := models.FindOrderByCode(r.db, orderCode)
	if err != nil {
		return err
	}
	return order.AttachLinkedEntity(r.db, entityID)
}

func (r *orderRepository) List(offset, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&orders).Error
	return orders, err
}

func (r *orderRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Order{}).Count(&count).Error
	return count, err
}
