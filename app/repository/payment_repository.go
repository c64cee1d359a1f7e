package repository

import (
	"time"

	"github.com/vutran/payrec/app/models"
	"gorm.io/gorm"
)

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a payment repository backed by GORM.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) GetByOrderCode(orderCode string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.Where("order_code = ?", orderCode).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) List(offset, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Order("updated_at DESC").Offset(offset).Limit(limit).Find(&payments).Error
	return payments, err
}

func (r *paymentRepository) ListUnlinkedOlderThan(cutoff time.Time) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("unlinked = ? AND created_at < ?", true, cutoff).Find(&payments).Error
	return payments, err
}

func (r *paymentRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Payment{}).Count(&count).Error
	return count, err
}

func (r *paymentRepository) CountByStatus(status string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Payment{}).Where("status = ?", status).Count(&count).Error
	return count, err
}
