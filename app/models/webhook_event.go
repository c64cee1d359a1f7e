package models

import "time"

const (
	WebhookStatusProcessed      = "processed"
	WebhookStatusConflict       = "conflict"
	WebhookStatusIntegrityFault = "integrity_fault"
	WebhookStatusOrphaned       = "orphaned"
	WebhookStatusResolved       = "resolved"
	WebhookStatusRejected       = "rejected"
)

// WebhookEvent is the idempotency ledger. One row per accepted gateway
// notification; the unique webhook_id is the uniqueness boundary for all
// side effects. Redeliveries hit the existing row and replay result_status
// without touching the payment or the notifier.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	WebhookID       string     `gorm:"type:varchar(128);not null;uniqueIndex:ux_webhook_events_webhook_id" json:"webhook_id"`
	OrderCode       string     `gorm:"type:varchar(64);not null;index" json:"order_code"`
	RawPayload      string     `gorm:"type:longtext;not null" json:"raw_payload"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	Status          string     `gorm:"type:varchar(32);not null;index" json:"status"`
	ResultStatus    string     `gorm:"type:varchar(20)" json:"result_status"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
