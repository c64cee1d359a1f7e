package payment

import (
	"errors"

	"github.com/vutran/payrec/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// createWebhookEventIfNotExists inserts into the idempotency ledger with
// INSERT ... ON CONFLICT DO NOTHING semantics on webhook_id and reports
// whether this call created the row. The losing side of a concurrent
// insert or a redelivery gets the already-stored row back.
func createWebhookEventIfNotExists(tx *gorm.DB, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "webhook_id"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, nil, res.Error
	}

	created := res.RowsAffected > 0
	var stored models.WebhookEvent
	if err := tx.Where("webhook_id = ?", event.WebhookID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// getOrCreatePayment loads the payment row for an order code, creating it
// in pending when absent. The unique index on order_code collapses
// concurrent creates to a single row; the loser re-reads the winner's row.
func getOrCreatePayment(tx *gorm.DB, orderCode string, amount int64, unlinked bool) (*models.Payment, error) {
	var p models.Payment
	err := tx.Where("order_code = ?", orderCode).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	p = models.Payment{
		OrderCode: orderCode,
		Status:    models.PaymentStatusPending,
		Amount:    amount,
		Unlinked:  unlinked,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_code"}},
		DoNothing: true,
	}).Create(&p).Error; err != nil {
		return nil, err
	}

	// Re-read to cover the losing side of a concurrent create.
	if err := tx.Where("order_code = ?", orderCode).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
