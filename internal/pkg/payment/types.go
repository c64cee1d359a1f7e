package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/vutran/payrec/app/models"
)

var (
	// ErrMalformedPayload marks payloads that fail structural validation.
	// Nothing is persisted for these; the gateway gets a 4xx.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrInvalidSignature marks payloads whose checksum does not match.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Gateway status codes carried in the webhook "code" field.
const (
	GatewayCodeSuccess   = "00"
	GatewayCodeCancelled = "02"
)

// WebhookPayload is the strictly validated shape of an inbound gateway
// notification. Anything that does not parse into this shape is rejected
// before any state mutation.
type WebhookPayload struct {
	Code      string             `json:"code" validate:"required"`
	Desc      string             `json:"desc" validate:"required"`
	Signature string             `json:"signature"`
	Data      WebhookPayloadData `json:"data"`
}

// WebhookPayloadData is the payment-identifying block of the payload.
type WebhookPayloadData struct {
	OrderCode     string `json:"orderCode" validate:"required,min=3,max=64"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	Reference     string `json:"reference" validate:"required"`
	PaymentLinkID string `json:"paymentLinkId"`
}

// ParseWebhookPayload decodes and validates a raw webhook body.
func ParseWebhookPayload(raw []byte) (*WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validator.New().Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &p, nil
}

// TargetStatus maps the gateway status code to the internal payment status
// this notification asks for. Success maps to completed, the gateway's
// explicit cancellation code to cancelled, everything else to failed.
func (p *WebhookPayload) TargetStatus() string {
	switch p.Code {
	case GatewayCodeSuccess:
		return models.PaymentStatusCompleted
	case GatewayCodeCancelled:
		return models.PaymentStatusCancelled
	default:
		return models.PaymentStatusFailed
	}
}

// IngestResult is what the webhook handler returns to the gateway-facing
// HTTP layer after a notification has been ingested.
type IngestResult struct {
	WebhookID      string `json:"webhook_id"`
	OrderCode      string `json:"order_code"`
	PaymentID      uint   `json:"payment_id"`
	PaymentStatus  string `json:"payment_status"`
	LinkedEntityID string `json:"linked_entity_id,omitempty"`
	Duplicate      bool   `json:"duplicate"`
	Conflict       bool   `json:"conflict"`
	CompletedNow   bool   `json:"-"`
}

// GatewayOrderState is the authoritative state of an order as reported by
// the gateway query API, already mapped to internal status values.
type GatewayOrderState struct {
	OrderCode     string
	Status        string
	Amount        int64
	TransactionID string
}

// ScanReport summarizes one reconciliation pass.
type ScanReport struct {
	DuplicatesFound   int `json:"duplicates_found"`
	DuplicatesMerged  int `json:"duplicates_merged"`
	OrphansFound      int `json:"orphans_found"`
	OrphansLinked     int `json:"orphans_linked"`
	ConflictsFlagged  int `json:"conflicts_flagged"`
	ConflictsResolved int `json:"conflicts_resolved"`
}
