package repository

import (
	"time"

	"github.com/vutran/payrec/app/models"
)

// OrderRepository defines the interface for order-related database operations
type OrderRepository interface {
	Create(order *models.Order) error
	GetByCode(orderCode string) (*models.Order, error)
	AttachLinkedEntity(orderCode, entityID string) error
	List(offset, limit int) ([]models.Order, error)
	Count() (int64, error)
}

// PaymentRepository defines the read-side interface for payment records.
// Mutations go exclusively through the payment service state machine.
type PaymentRepository interface {
	GetByOrderCode(orderCode string) (*models.Payment, error)
	List(offset, limit int) ([]models.Payment, error)
	ListUnlinkedOlderThan(cutoff time.Time) ([]models.Payment, error)
	Count() (int64, error)
	CountByStatus(status string) (int64, error)
}

// WebhookEventRepository defines the read-side interface for the
// idempotency ledger.
type WebhookEventRepository interface {
	GetByWebhookID(webhookID string) (*models.WebhookEvent, error)
	ListByStatus(status string, offset, limit int) ([]models.WebhookEvent, error)
	ListByOrderCode(orderCode string) ([]models.WebhookEvent, error)
	Count() (int64, error)
}

// PaymentAuditRepository defines the read-side interface for the
// reconciliation audit trail.
type PaymentAuditRepository interface {
	List(offset, limit int) ([]models.PaymentAudit, error)
	ListByOrderCode(orderCode string) ([]models.PaymentAudit, error)
}
