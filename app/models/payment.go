package models

import "time"

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

const (
	FailureReasonGatewayDeclined = "gateway_declined"
	FailureReasonAmountMismatch  = "amount_mismatch"
)

// Payment is the mutable settlement record for an order. The unique index on
// order_code guarantees at most one live payment row per order; concurrent
// webhook deliveries for the same order serialize on it.
type Payment struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	OrderCode            string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_payments_order_code" json:"order_code"`
	Status               string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Amount               int64      `gorm:"not null" json:"amount"`
	GatewayTransactionID string     `gorm:"type:varchar(191);index" json:"gateway_transaction_id,omitempty"`
	FailureReason        string     `gorm:"type:varchar(64)" json:"failure_reason,omitempty"`
	Unlinked             bool       `gorm:"default:false;index" json:"unlinked"`
	PaidAt               *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	NotifiedAt           *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime;index" json:"updated_at"`
}

// IsTerminal reports whether the payment reached a final status.
func (p *Payment) IsTerminal() bool {
	return IsTerminalStatus(p.Status)
}

func IsTerminalStatus(status string) bool {
	switch status {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}
