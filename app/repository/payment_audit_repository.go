package repository

import (
	"github.com/vutran/payrec/app/models"
	"gorm.io/gorm"
)

type paymentAuditRepository struct {
	db *gorm.DB
}

// NewPaymentAuditRepository creates an audit repository backed by GORM.
func NewPaymentAuditRepository(db *gorm.DB) PaymentAuditRepository {
	return &paymentAuditRepository{db: db}
}

func (r *paymentAuditRepository) List(offset, limit int) ([]models.PaymentAudit, error) {
	var audits []models.PaymentAudit
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&audits).Error
	return audits, err
}

func (r *paymentAuditRepository) ListByOrderCode(orderCode string) ([]models.PaymentAudit, error) {
	var audits []models.PaymentAudit
	err := r.db.Where("order_code = ?", orderCode).Order("created_at ASC").Find(&audits).Error
	return audits, err
}
