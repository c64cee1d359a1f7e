package repository

import (
	"github.com/vutran/payrec/app/models"
	"gorm.io/gorm"
)

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a webhook event repository backed by GORM.
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) GetByWebhookID(webhookID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.Where("webhook_id = ?", webhookID).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *webhookEventRepository) ListByStatus(status string, offset, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.Where("status = ?", status).
		Order("created_at ASC").Offset(offset).Limit(limit).Find(&events).Error
	return events, err
}

func (r *webhookEventRepository) ListByOrderCode(orderCode string) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.Where("order_code = ?", orderCode).Order("created_at ASC").Find(&events).Error
	return events, err
}

func (r *webhookEventRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.WebhookEvent{}).Count(&count).Error
	return count, err
}
