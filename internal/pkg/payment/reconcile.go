package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/vutran/payrec/app/models"
	"gorm.io/gorm"
)

// Reconciler walks the payment store for duplicate, orphaned and
// conflicting records and repairs what it can. It is safe to run
// concurrently with live webhook traffic and converges: a second run with
// no new events changes nothing.
type Reconciler struct {
	db      *gorm.DB
	svc     *Service
	gateway GatewayQueryClient
	grace   time.Duration
}

// NewReconciler creates a reconciler. grace is the age below which missing
// entity links are not yet treated as orphans.
func NewReconciler(db *gorm.DB, svc *Service, gateway GatewayQueryClient, grace time.Duration) *Reconciler {
	if grace <= 0 {
		grace = time.Hour
	}
	return &Reconciler{db: db, svc: svc, gateway: gateway, grace: grace}
}

// Scan runs one full reconciliation pass.
func (r *Reconciler) Scan(ctx context.Context) (*ScanReport, error) {
	report := &ScanReport{}
	if err := r.mergeDuplicates(ctx, report); err != nil {
		return report, fmt.Errorf("duplicate merge failed: %w", err)
	}
	if err := r.resolveOrphans(ctx, report); err != nil {
		return report, fmt.Errorf("orphan resolution failed: %w", err)
	}
	if err := r.replayConflicts(ctx, report); err != nil {
		return report, fmt.Errorf("conflict replay failed: %w", err)
	}
	log.Infof("[Reconcile] scan done: duplicates %d/%d merged, orphans %d/%d linked, conflicts %d/%d resolved",
		report.DuplicatesMerged, report.DuplicatesFound,
		report.OrphansLinked, report.OrphansFound,
		report.ConflictsResolved, report.ConflictsFlagged)
	return report, nil
}

// mergeDuplicates repairs payment rows that bypassed or predate the unique
// order_code constraint. The keeper is the most recent terminal row; when
// terminal rows disagree the gateway decides. Removed rows are preserved
// verbatim in the audit trail.
func (r *Reconciler) mergeDuplicates(ctx context.Context, report *ScanReport) error {
	var codes []string
	if err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Select("order_code").Group("order_code").Having("COUNT(*) > 1").
		Pluck("order_code", &codes).Error; err != nil {
		return err
	}

	for _, code := range codes {
		var rows []models.Payment
		if err := r.db.WithContext(ctx).
			Where("order_code = ?", code).Order("updated_at DESC").
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) < 2 {
			continue
		}
		report.DuplicatesFound += len(rows) - 1

		keeper, err := r.pickKeeper(ctx, code, rows)
		if err != nil {
			log.Warnf("[Reconcile] cannot pick keeper for %s, leaving duplicates in place: %v", code, err)
			continue
		}

		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for i := range rows {
				row := rows[i]
				if row.ID == keeper.ID {
					continue
				}
				detail, _ := json.Marshal(row)
				audit := &models.PaymentAudit{
					PaymentID:    keeper.ID,
					OrderCode:    code,
					Action:       models.AuditActionDuplicateRemoved,
					BeforeStatus: row.Status,
					AfterStatus:  keeper.Status,
					Detail:       string(detail),
				}
				if err := tx.Create(audit).Error; err != nil {
					return err
				}
				if err := tx.Delete(&models.Payment{}, row.ID).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		report.DuplicatesMerged += len(rows) - 1
		log.Infof("[Reconcile] merged %d duplicate payment rows for %s, kept id %d (%s)",
			len(rows)-1, code, keeper.ID, keeper.Status)
	}
	return nil
}

func (r *Reconciler) pickKeeper(ctx context.Context, code string, rows []models.Payment) (*models.Payment, error) {
	// rows arrive sorted by updated_at DESC
	var terminal []*models.Payment
	for i := range rows {
		if rows[i].IsTerminal() {
			terminal = append(terminal, &rows[i])
		}
	}
	if len(terminal) == 0 {
		return &rows[0], nil
	}

	agree := true
	for _, t := range terminal {
		if t.Status != terminal[0].Status {
			agree = false
			break
		}
	}
	if agree {
		return terminal[0], nil
	}

	// Terminal rows disagree: ask the gateway which transaction settled.
	truth, err := r.gateway.QueryOrder(ctx, code)
	if err != nil {
		return nil, err
	}
	if truth.TransactionID != "" {
		for _, t := range terminal {
			if t.GatewayTransactionID == truth.TransactionID {
				return t, nil
			}
		}
	}
	for _, t := range terminal {
		if t.Status == truth.Status {
			return t, nil
		}
	}
	return terminal[0], nil
}

// resolveOrphans handles payments with no matching order and orders with no
// linked entity after the grace period. Orphans are linked when possible
// and otherwise flagged once for operator action; nothing is deleted.
func (r *Reconciler) resolveOrphans(ctx context.Context, report *ScanReport) error {
	cutoff := time.Now().Add(-r.grace)

	var unlinked []models.Payment
	if err := r.db.WithContext(ctx).
		Where("unlinked = ? AND created_at < ?", true, cutoff).
		Find(&unlinked).Error; err != nil {
		return err
	}
	for i := range unlinked {
		p := &unlinked[i]
		report.OrphansFound++

		order, err := models.FindOrderByCode(r.db.WithContext(ctx), p.OrderCode)
		if err == nil {
			if p.Amount != order.Amount {
				// The late order disagrees with what the gateway settled.
				// Adoption would silently paper over the mismatch.
				if err := r.flagOnce(ctx, p, models.AuditActionIntegrityFault,
					fmt.Sprintf("adoption refused: order amount %d does not match payment amount %d", order.Amount, p.Amount)); err != nil {
					return err
				}
				continue
			}
			// The order showed up after the webhook; adopt it.
			err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := tx.Model(p).Update("unlinked", false).Error; err != nil {
					return err
				}
				return tx.Create(&models.PaymentAudit{
					PaymentID:    p.ID,
					OrderCode:    p.OrderCode,
					Action:       models.AuditActionOrphanLinked,
					BeforeStatus: p.Status,
					AfterStatus:  p.Status,
					Detail:       fmt.Sprintf("late order found, linked_entity_id=%q", order.LinkedEntityID),
				}).Error
			})
			if err != nil {
				return err
			}
			report.OrphansLinked++
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := r.flagOnce(ctx, p, models.AuditActionOrphanFlagged, "payment has no matching order"); err != nil {
			return err
		}
	}

	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Where("(linked_entity_id IS NULL OR linked_entity_id = '') AND created_at < ?", cutoff).
		Find(&orders).Error; err != nil {
		return err
	}
	for i := range orders {
		o := &orders[i]
		var p models.Payment
		if err := r.db.WithContext(ctx).Where("order_code = ?", o.OrderCode).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Intent without settlement activity is not an orphan.
				continue
			}
			return err
		}
		report.OrphansFound++

		if ref := EntityRefFromDescription(o.Description); ref != "" {
			if err := o.AttachLinkedEntity(r.db.WithContext(ctx), ref); err != nil {
				return err
			}
			if err := r.db.WithContext(ctx).Create(&models.PaymentAudit{
				PaymentID:    p.ID,
				OrderCode:    o.OrderCode,
				Action:       models.AuditActionOrphanLinked,
				BeforeStatus: p.Status,
				AfterStatus:  p.Status,
				Detail:       fmt.Sprintf("entity ref %q recovered from order description", ref),
			}).Error; err != nil {
				return err
			}
			report.OrphansLinked++
			continue
		}
		if err := r.flagOnce(ctx, &p, models.AuditActionOrphanFlagged, "order has no linked entity after grace period"); err != nil {
			return err
		}
	}
	return nil
}

// flagOnce creates an operator-facing audit flag a single time per payment
// and action, so repeated scans converge instead of piling up flags.
func (r *Reconciler) flagOnce(ctx context.Context, p *models.Payment, action, reason string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.PaymentAudit{}).
		Where("payment_id = ? AND action = ?", p.ID, action).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	log.Warnf("[Reconcile] flagging payment %d (%s) as %s: %s", p.ID, p.OrderCode, action, reason)
	return r.db.WithContext(ctx).Create(&models.PaymentAudit{
		PaymentID:    p.ID,
		OrderCode:    p.OrderCode,
		Action:       action,
		BeforeStatus: p.Status,
		AfterStatus:  p.Status,
		Detail:       reason,
	}).Error
}

// replayConflicts re-applies flagged webhook events against the gateway's
// ground truth, going through the same correction transition for every
// event rather than a second state machine.
func (r *Reconciler) replayConflicts(ctx context.Context, report *ScanReport) error {
	var events []models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.WebhookStatusConflict).Order("created_at ASC").
		Find(&events).Error; err != nil {
		return err
	}
	report.ConflictsFlagged = len(events)

	for i := range events {
		e := &events[i]
		// The gateway call happens strictly outside any transaction.
		truth, err := r.gateway.QueryOrder(ctx, e.OrderCode)
		if err != nil {
			log.Warnf("[Reconcile] gateway query failed for %s: %v", e.OrderCode, err)
			continue
		}
		if !models.IsTerminalStatus(truth.Status) {
			log.Infof("[Reconcile] gateway still reports %s for %s, leaving conflict flagged", truth.Status, e.OrderCode)
			continue
		}
		if err := r.svc.ApplyCorrection(ctx, e, truth); err != nil {
			log.Errorf("[Reconcile] correction failed for %s: %v", e.OrderCode, err)
			continue
		}
		report.ConflictsResolved++
	}
	return nil
}
