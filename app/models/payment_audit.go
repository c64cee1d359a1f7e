package models

import "time"

const (
	AuditActionDuplicateRemoved  = "duplicate_removed"
	AuditActionTerminalCorrected = "terminal_corrected"
	AuditActionOrphanFlagged     = "orphan_flagged"
	AuditActionOrphanLinked      = "orphan_linked"
	AuditActionIntegrityFault    = "integrity_fault"
)

// PaymentAudit is the append-only trail of reconciliation actions. Every
// removed duplicate and every terminal-state correction keeps its
// before/after values here.
type PaymentAudit struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	PaymentID    uint      `gorm:"not null;index" json:"payment_id"`
	OrderCode    string    `gorm:"type:varchar(64);not null;index" json:"order_code"`
	Action       string    `gorm:"type:varchar(32);not null;index" json:"action"`
	BeforeStatus string    `gorm:"type:varchar(20)" json:"before_status"`
	AfterStatus  string    `gorm:"type:varchar(20)" json:"after_status"`
	Detail       string    `gorm:"type:text" json:"detail"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
