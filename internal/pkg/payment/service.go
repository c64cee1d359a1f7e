package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/vutran/payrec/app/models"
	"gorm.io/gorm"
)

// EntityLinker resolves an order code to the business entity the payment
// belongs to (appointment, medical record, ...). It may legitimately find
// nothing at webhook time; reconciliation retries later.
type EntityLinker interface {
	LinkOrderToEntity(ctx context.Context, orderCode string) (string, error)
}

// Service drives the payment state machine. All writes to payments and the
// idempotency ledger go through here or through the reconciler, never
// through ad-hoc queries.
type Service struct {
	db          *gorm.DB
	notifier    Notifier
	linker      EntityLinker
	checksumKey string
}

// NewService creates the payment service. notifier and linker may be nil
// (notifications and entity resolution are then skipped); an empty
// checksumKey disables signature verification, for local development only.
func NewService(db *gorm.DB, notifier Notifier, linker EntityLinker, checksumKey string) *Service {
	return &Service{db: db, notifier: notifier, linker: linker, checksumKey: checksumKey}
}

// Ingest processes one inbound gateway notification end to end: strict
// parse, signature check, idempotency gate, state transition, and the
// post-commit notifier dispatch. Redeliveries of the same event replay the
// recorded outcome without side effects.
func (s *Service) Ingest(ctx context.Context, raw []byte) (*IngestResult, error) {
	p, err := ParseWebhookPayload(raw)
	if err != nil {
		return nil, err
	}
	if s.checksumKey != "" && !VerifyWebhookSignature(p, s.checksumKey) {
		return nil, ErrInvalidSignature
	}
	webhookID := DeriveWebhookID(p)

	var result IngestResult
	var completed *models.Payment // snapshot for post-commit dispatch

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		completed = nil
		event := &models.WebhookEvent{
			WebhookID:      webhookID,
			OrderCode:      p.Data.OrderCode,
			RawPayload:     string(raw),
			SignatureValid: s.checksumKey != "",
			Status:         models.WebhookStatusProcessed,
		}
		created, stored, err := createWebhookEventIfNotExists(tx, event)
		if err != nil {
			return err
		}
		if !created {
			// Idempotency gate: the event was already processed. Return
			// the recorded outcome without touching the payment or the
			// notifier.
			result = IngestResult{
				WebhookID:     webhookID,
				OrderCode:     stored.OrderCode,
				PaymentStatus: stored.ResultStatus,
				Duplicate:     true,
				Conflict:      stored.Status == models.WebhookStatusConflict,
			}
			return nil
		}

		order, err := models.FindOrderByCode(tx, p.Data.OrderCode)
		unlinked := false
		if errors.Is(err, gorm.ErrRecordNotFound) {
			order = nil
			unlinked = true
		} else if err != nil {
			return err
		}

		amount := p.Data.Amount
		if order != nil {
			amount = order.Amount
		}
		payment, err := getOrCreatePayment(tx, p.Data.OrderCode, amount, unlinked)
		if err != nil {
			return err
		}

		target := p.TargetStatus()
		eventStatus := models.WebhookStatusProcessed
		failureReason := ""
		procErr := ""
		if order == nil {
			// Unknown order: keep the event and the payment, hand the
			// linkage problem to reconciliation.
			eventStatus = models.WebhookStatusOrphaned
			procErr = "no matching order for order_code"
		}
		if order != nil && target == models.PaymentStatusCompleted && p.Data.Amount != order.Amount {
			// Integrity fault: never trust the gateway's amount blindly.
			target = models.PaymentStatusFailed
			failureReason = models.FailureReasonAmountMismatch
			eventStatus = models.WebhookStatusIntegrityFault
			procErr = fmt.Sprintf("webhook amount %d does not match order amount %d", p.Data.Amount, order.Amount)
		}

		switch EvaluateTransition(payment.Status, target) {
		case TransitionNoop:
			// Already settled to the same status, nothing to change.
		case TransitionConflict:
			eventStatus = models.WebhookStatusConflict
			procErr = fmt.Sprintf("terminal status %s disagrees with reported %s", payment.Status, target)
		case TransitionApply:
			payment.Status = target
			payment.GatewayTransactionID = p.Data.Reference
			switch {
			case failureReason != "":
				payment.FailureReason = failureReason
			case target == models.PaymentStatusFailed:
				payment.FailureReason = models.FailureReasonGatewayDeclined
			}
			completedNow := false
			if target == models.PaymentStatusCompleted {
				now := time.Now()
				payment.PaidAt = &now
				if payment.NotifiedAt == nil {
					// Claim the at-most-once dispatch inside the
					// transaction; the attempt happens after commit.
					payment.NotifiedAt = &now
					completedNow = true
				}
			}
			if err := tx.Save(payment).Error; err != nil {
				return err
			}
			if completedNow {
				snapshot := *payment
				completed = &snapshot
			}
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":        eventStatus,
			"result_status": payment.Status,
			"processed_at":  &now,
		}
		if procErr != "" {
			updates["processing_error"] = procErr
		}
		if err := tx.Model(&models.WebhookEvent{}).Where("id = ?", stored.ID).Updates(updates).Error; err != nil {
			return err
		}

		result = IngestResult{
			WebhookID:     webhookID,
			OrderCode:     p.Data.OrderCode,
			PaymentID:     payment.ID,
			PaymentStatus: payment.Status,
			Conflict:      eventStatus == models.WebhookStatusConflict,
			CompletedNow:  completed != nil,
		}
		if order != nil {
			result.LinkedEntityID = order.LinkedEntityID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Side effects fire only after commit, so a rolled back transition can
	// never produce a notification.
	if completed != nil && s.notifier != nil {
		if nerr := s.notifier.Notify(ctx, completed); nerr != nil {
			// At most one attempt: the notified_at marker is already set.
			log.Errorf("[Payment] notifier dispatch failed for payment %d (%s): %v", completed.ID, completed.OrderCode, nerr)
		}
	}
	// Duplicates go through the linker too, so a redelivery acks with the
	// same body as the original delivery.
	if result.LinkedEntityID == "" && s.linker != nil {
		if ref, lerr := s.linker.LinkOrderToEntity(ctx, result.OrderCode); lerr == nil && ref != "" {
			result.LinkedEntityID = ref
		}
	}
	return &result, nil
}

// CreateOrder registers payment intent together with its pending payment
// row. If a webhook arrived before the order was registered, the orphaned
// payment row is adopted instead of creating a second one.
func (s *Service) CreateOrder(ctx context.Context, order *models.Order) (*models.Payment, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}

	var payment *models.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		p, err := getOrCreatePayment(tx, order.OrderCode, order.Amount, false)
		if err != nil {
			return err
		}
		if p.Unlinked {
			if p.Amount != order.Amount {
				// A webhook already settled this order code with a different
				// amount. Never adopt silently: leave the orphan flag and
				// hand the discrepancy to reconciliation.
				audit := &models.PaymentAudit{
					PaymentID:    p.ID,
					OrderCode:    p.OrderCode,
					Action:       models.AuditActionIntegrityFault,
					BeforeStatus: p.Status,
					AfterStatus:  p.Status,
					Detail:       fmt.Sprintf("adoption refused: payment amount %d does not match order amount %d", p.Amount, order.Amount),
				}
				if err := tx.Create(audit).Error; err != nil {
					return err
				}
			} else {
				p.Unlinked = false
				if err := tx.Model(p).Update("unlinked", false).Error; err != nil {
					return err
				}
			}
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// GetPaymentStatus is the read-only status query used by UI polling.
func (s *Service) GetPaymentStatus(ctx context.Context, orderCode string) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.WithContext(ctx).Where("order_code = ?", orderCode).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ApplyCorrection rewrites a payment to the gateway's authoritative state.
// This is the single allowed exit from a terminal state, driven only by
// reconciliation, and is always audit-logged with before/after values.
func (s *Service) ApplyCorrection(ctx context.Context, event *models.WebhookEvent, truth *GatewayOrderState) error {
	if !models.IsTerminalStatus(truth.Status) {
		return fmt.Errorf("gateway state %q for order %s is not terminal", truth.Status, event.OrderCode)
	}

	var completed *models.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		completed = nil
		var p models.Payment
		if err := tx.Where("order_code = ?", event.OrderCode).First(&p).Error; err != nil {
			return err
		}

		if p.Status != truth.Status || (truth.TransactionID != "" && p.GatewayTransactionID != truth.TransactionID) {
			before := p.Status
			p.Status = truth.Status
			if truth.TransactionID != "" {
				p.GatewayTransactionID = truth.TransactionID
			}
			completedNow := false
			if truth.Status == models.PaymentStatusCompleted {
				now := time.Now()
				if p.PaidAt == nil {
					p.PaidAt = &now
				}
				if p.NotifiedAt == nil {
					p.NotifiedAt = &now
					completedNow = true
				}
			}
			if err := tx.Save(&p).Error; err != nil {
				return err
			}
			audit := &models.PaymentAudit{
				PaymentID:    p.ID,
				OrderCode:    p.OrderCode,
				Action:       models.AuditActionTerminalCorrected,
				BeforeStatus: before,
				AfterStatus:  p.Status,
				Detail:       fmt.Sprintf("corrected to gateway ground truth, transaction %q", truth.TransactionID),
			}
			if err := tx.Create(audit).Error; err != nil {
				return err
			}
			if completedNow {
				snapshot := p
				completed = &snapshot
			}
		}

		now := time.Now()
		return tx.Model(&models.WebhookEvent{}).Where("id = ?", event.ID).Updates(map[string]interface{}{
			"status":        models.WebhookStatusResolved,
			"result_status": p.Status,
			"processed_at":  &now,
		}).Error
	})
	if err != nil {
		return err
	}

	if completed != nil && s.notifier != nil {
		if nerr := s.notifier.Notify(ctx, completed); nerr != nil {
			log.Errorf("[Payment] notifier dispatch failed for corrected payment %d (%s): %v", completed.ID, completed.OrderCode, nerr)
		}
	}
	return nil
}
