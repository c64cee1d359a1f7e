package payment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vutran/payrec/app/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testChecksumKey = "test-checksum-key"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// One connection keeps the in-memory database alive and shared.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Order{},
		&models.Payment{},
		&models.WebhookEvent{},
		&models.PaymentAudit{},
		&models.WebhookStat{},
	))
	return db
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []models.Payment
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, p *models.Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, *p)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func signedBody(t *testing.T, code, orderCode string, amount int64, reference, linkID string) []byte {
	t.Helper()
	data := WebhookPayloadData{
		OrderCode:     orderCode,
		Amount:        amount,
		Reference:     reference,
		PaymentLinkID: linkID,
	}
	p := WebhookPayload{
		Code:      code,
		Desc:      "gateway notification",
		Signature: ComputeSignature(data, testChecksumKey),
		Data:      data,
	}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return raw
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *fakeNotifier) {
	t.Helper()
	db := newTestDB(t)
	notifier := &fakeNotifier{}
	svc := NewService(db, notifier, NewOrderEntityLinker(db), testChecksumKey)
	return svc, db, notifier
}

func mustCreateOrder(t *testing.T, svc *Service, order *models.Order) *models.Payment {
	t.Helper()
	p, err := svc.CreateOrder(context.Background(), order)
	require.NoError(t, err)
	return p
}

func TestIngestCompletesPayment(t *testing.T) {
	svc, db, notifier := newTestService(t)
	mustCreateOrder(t, svc, &models.Order{OrderCode: "ORD-100", Amount: 1500, LinkedEntityID: "appt:A1"})

	res, err := svc.Ingest(context.Background(), signedBody(t, GatewayCodeSuccess, "ORD-100", 1500, "TXN-1", ""))
	require.NoError(t, err)

	assert.False(t, res.Duplicate)
	assert.False(t, res.Conflict)
	assert.Equal(t, models.PaymentStatusCompleted, res.PaymentStatus)
	assert.Equal(t, "appt:A1", res.LinkedEntityID)

	var p models.Payment
	require.NoError(t, db.Where("order_code = ?", "ORD-100").First(&p).Error)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	assert.Equal(t, "TXN-1", p.GatewayTransactionID)
	assert.NotNil(t, p.PaidAt)
	assert.NotNil(t, p.NotifiedAt)
	assert.False(t, p.Unlinked)

	var e models.WebhookEvent
	require.NoError(t, db.Where("order_code = ?", "ORD-100").First(&e).Error)
	assert.Equal(t, models.WebhookStatusProcessed, e.Status)
	assert.Equal(t, models.PaymentStatusCompleted, e.ResultStatus)
	assert.True(t, e.SignatureValid)
	assert.NotNil(t, e.ProcessedAt)

	assert.Equal(t, 1, notifier.count())
}

func TestIngestIsIdempotent(t *testing.T) {
	svc, db, notifier := newTestService(t)
	mustCreateOrder(t, svc, &models.Order{OrderCode: "ORD-101", Amount: 1000})

	raw := signedBody(t, GatewayCodeSuccess, "ORD-101", 1000, "TXN-1", "evt-abc")

	first, err := svc.Ingest(context.Background(), raw)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	for i := 0; i < 3; i++ {
		res, err := svc.Ingest(context.Background(), raw)
		require.NoError(t, err)
		assert.True(t, res.Duplicate)
		assert.Equal(t, models.PaymentStatusCompleted, res.PaymentStatus)
	}

	var events int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&events).Error)
	assert.Equal(t, int64(1), events)

	var payments int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&payments).Error)
	assert.Equal(t, int64(1), payments)

	// The notifier fired exactly once across all deliveries.
	assert.Equal(t, 1, notifier.count())
}

func TestIngestGatewayDeclined(t *testing.T) {
	svc, db, notifier := newTestService(t)
	mustCreateOrder(t, svc, &models.Order{OrderCode: "ORD-102", Amount: 1000})

	res, err := svc.Ingest(context.Background(), signedBody(t, "01", "ORD-102", 1000, "TXN-1", ""))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, res.PaymentStatus)

	var p models.Payment
	require.NoError(t, db.Where("order_code = ?", "ORD-102").First(&p).Error)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Equal(t, models.FailureReasonGatewayDeclined, p.FailureReason)
	assert.Nil(t, p.PaidAt)
	assert.Equal(t, 0, notifier.count())
}

func TestIngestCancelled(t *testing.T) {
	svc, db, _ := newTestService(t)
	mustCreateOrder(t, svc, &models.Order{OrderCode: "ORD-103", Amount: 1000})

	res, err := svc.Ingest(context.Background(), signedBody(t, GatewayCodeCancelled, "ORD-103", 1000, "TXN-1", ""))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, res.PaymentStatus)

	var p models.Payment
	require.NoError(t, db.Where("order_code = ?", "ORD-103").First(&p).Error)
	assert.Equal(t, models.PaymentStatusCancelled, p.Status)
	assert.Empty(t, p.FailureReason)
}

func TestIngestConflictingTerminalDelivery(t *testing.T) {
	svc, db, notifier := newTestService(t)
	mustCreateOrder(t, svc, &models.Order{OrderCode: "ORD-104", Amount: 1000})

	_, err := svc.Ingest(context.Background(), signedBody(t, GatewayCodeSuccess, "ORD-104", 1000, "TXN-1", ""))
	require.NoError(t, err)

	// A different event for the same order reports cancellation.
	res, err := svc.Ingest(context.Background(), signedBody(t, GatewayCodeCancelled, "ORD-104", 1000, "TXN-2", ""))
	require.NoError(t, err)
	assert.True(t, res.Conflict)
	assert.False(t, res.Duplicate)
	assert.Equal(t, models.PaymentStatusCompleted, res.PaymentStatus)

	// The terminal payment is never overwritten by a webhook.
	var p models.Payment
	require.NoError(t, db.Where("order_code = ?", "ORD-104").First(&p).Error)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	assert.Equal(t, "TXN-1", p.GatewayTransactionID)

	var e models.WebhookEvent
	require.NoError(t, db.Where("order_code = ? AND status = ?", "ORD-104", models.WebhookStatusConflict).First(&e).Error)
	assert.Contains(t, e.ProcessingError, "disagrees")

	assert.Equal(t, 1, notifier.count())
}

func TestIngestAmountMismatch(t *testing.T) {
	svc, db, notifier := newTestService(t)
	mustCreateOrder(t, svc, &models.Order{OrderCode: "ORD-105", Amount: 1000})

	res, err := svc.Ingest(context.Background(), signedBody(t, GatewayCodeSuccess, "ORD-105", 999, "TXN-1", ""))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, res.PaymentStatus)

	var p models.Payment
	require.NoError(t, db.Where("order_code = ?", "ORD-105").First(&p).Error)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Equal(t, models.FailureReasonAmountMismatch, p.FailureReason)

	var e models.WebhookEvent
	require.NoError(t, db.Where("order_code = ?", "ORD-105").First(&e).Error)
	assert.Equal(t, models.WebhookStatusIntegrityFault, e.Status)
	assert.Contains(t, e.ProcessingError, "does not match")

	assert.Equal(t, 0, notifier.count())
}

func TestIngestUnknownOrderIsOrphaned(t *testing.T) {
	svc, db, _ := newTestService(t)

	res, err := svc.Ingest(context.Background(), signedBody(t, GatewayCodeSuccess, "ORD-GHOST", 500, "TXN-1", ""))
	require.NoError(t, err)
	assert.Equal(t, "ORD-GHOST", res.OrderCode)

	// The money is not dropped: a payment row exists, marked unlinked.
	var p models.Payment
	require.NoError(t, db.Where("order_code = ?", "ORD-GHOST").First(&p).Error)
	assert.True(t, p.Unlinked)
	assert.Equal(t, int64(500), p.Amount)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)

	var e models.WebhookEvent
	require.NoError(t, db.Where("order_code = ?", "ORD-GHOST").First(&e).Error)
	assert.Equal(t, models.WebhookStatusOrphaned, e.Status)
}

func TestIngestRejectsInvalidSignature(t *testing.T) {
	svc, db, notifier := newTestService(t)
	mustCreateOrder(t, svc, &models.Order{OrderCode: "ORD-106", Amount: 1000})

	raw := signedBody(t, GatewayCodeSuccess, "ORD-106", 1000, "TXN-1", "")
	var p WebhookPayload
	require.NoError(t, json.Unmarshal(raw, &p))
	p.Signature = "deadbeef"
	tampered, err := json.Marshal(p)
	require.NoError(t, err)

	_, err = svc.Ingest(context.Background(), tampered)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// Nothing was persisted for the rejected delivery.
	var events int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&events).Error)
	assert.Equal(t, int64(0), events)
	assert.Equal(t, 0, notifier.count())
}

func TestIngestRejectsMalformedPayload(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Ingest(context.Background(), []byte(`{"code":"00"`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = svc.Ingest(context.Background(), []byte(`{"code":"00","desc":"x","data":{"orderCode":"ORD-1","amount":0,"reference":"T"}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestIngestSkipsSignatureCheckWithoutKey(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil, nil, "")

	raw := []byte(`{"code":"00","desc":"x","data":{"orderCode":"ORD-107","amount":100,"reference":"TXN-1"}}`)
	res, err := svc.Ingest(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, res.PaymentStatus)

	var e models.WebhookEvent
	require.NoError(t, db.Where("order_code = ?", "ORD-107").First(&e).Error)
	assert.False(t, e.SignatureValid)
}

func TestIngestResolvesEntityRefFromDescription(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreateOrder(t, svc, &models.Order{OrderCode: "ORD-108", Amount: 1000, Description: "Consultation appt:APT-42"})

	res, err := svc.Ingest(context.Background(), signedBody(t, GatewayCodeSuccess, "ORD-108", 1000, "TXN-1", ""))
	require.NoError(t, err)
	assert.Equal(t, "appt:APT-42", res.LinkedEntityID)
}

func TestIngestNotifierFailureKeepsClaim(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	svc := NewService(db, notifier, nil, testChecksumKey)
	mustCreateOrder(t, svc, &models.Order{OrderCode: "ORD-109", Amount: 1000})

	_, err := svc.Ingest(context.Background(), signedBody(t, GatewayCodeSuccess, "ORD-109", 1000, "TXN-1", ""))
	require.NoError(t, err)
	assert.Equal(t, 1, notifier.count())

	// The claim survives the failed attempt: no second dispatch, ever.
	var p models.Payment
	require.NoError(t, db.Where("order_code = ?", "ORD-109").First(&p).Error)
	assert.NotNil(t, p.NotifiedAt)

	res, err := svc.Ingest(context.Background(), signedBody(t, GatewayCodeSuccess, "ORD-109", 1000, "TXN-1", ""))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 1, notifier.count())
}

func TestCreateOrderAdoptsOrphanPayment(t *testing.T) {
	svc, db, _ := newTestService(t)

	// Webhook arrives before the order exists.
	_, err := svc.Ingest(context.Background(), signedBody(t, GatewayCodeSuccess, "ORD-110", 700, "TXN-1", ""))
	require.NoError(t, err)

	p := mustCreateOrder(t, svc, &models.Order{OrderCode: "ORD-110", Amount: 700})
	assert.False(t, p.Unlinked)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).Where("order_code = ?", "ORD-110").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateOrderRefusesMismatchedAdoption(t *testing.T) {
	svc, db, _ := newTestService(t)

	// Webhook settles 500 before any order exists.
	_, err := svc.Ingest(context.Background(), signedBody(t, GatewayCodeSuccess, "ORD-115", 500, "TXN-1", ""))
	require.NoError(t, err)

	// The order arrives later claiming a different amount.
	p, err := svc.CreateOrder(context.Background(), &models.Order{OrderCode: "ORD-115", Amount: 700})
	require.NoError(t, err)

	// The orphan is not adopted and its settled amount is untouched.
	assert.True(t, p.Unlinked)
	assert.Equal(t, int64(500), p.Amount)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)

	var audit models.PaymentAudit
	require.NoError(t, db.Where("payment_id = ? AND action = ?", p.ID, models.AuditActionIntegrityFault).First(&audit).Error)
	assert.Contains(t, audit.Detail, "500")
	assert.Contains(t, audit.Detail, "700")
}

func TestIngestDuplicateReturnsLinkedEntity(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreateOrder(t, svc, &models.Order{OrderCode: "ORD-116", Amount: 1000, LinkedEntityID: "appt:A7"})

	raw := signedBody(t, GatewayCodeSuccess, "ORD-116", 1000, "TXN-1", "")

	first, err := svc.Ingest(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "appt:A7", first.LinkedEntityID)

	// A redelivery acks with the same body as the original delivery.
	replay, err := svc.Ingest(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, "appt:A7", replay.LinkedEntityID)
	assert.Equal(t, first.PaymentStatus, replay.PaymentStatus)
}

func TestIngestConcurrentDeliveries(t *testing.T) {
	svc, db, notifier := newTestService(t)
	mustCreateOrder(t, svc, &models.Order{OrderCode: "ORD-117", Amount: 1000})

	raw := signedBody(t, GatewayCodeSuccess, "ORD-117", 1000, "TXN-1", "")

	const deliveries = 8
	var duplicates int64
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Ingest(context.Background(), raw)
			if !assert.NoError(t, err) {
				return
			}
			if res.Duplicate {
				atomic.AddInt64(&duplicates, 1)
			}
		}()
	}
	wg.Wait()

	// Exactly one delivery won the gate; everyone else replayed it.
	assert.Equal(t, int64(deliveries-1), duplicates)

	var events int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&events).Error)
	assert.Equal(t, int64(1), events)

	var payments int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&payments).Error)
	assert.Equal(t, int64(1), payments)

	assert.Equal(t, 1, notifier.count())
}

func TestCreateOrderRejectsDuplicateCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreateOrder(t, svc, &models.Order{OrderCode: "ORD-111", Amount: 100})

	_, err := svc.CreateOrder(context.Background(), &models.Order{OrderCode: "ORD-111", Amount: 100})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestGetPaymentStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreateOrder(t, svc, &models.Order{OrderCode: "ORD-112", Amount: 100})

	p, err := svc.GetPaymentStatus(context.Background(), "ORD-112")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, p.Status)

	_, err = svc.GetPaymentStatus(context.Background(), "ORD-MISSING")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestApplyCorrectionRejectsNonTerminalTruth(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.ApplyCorrection(context.Background(), &models.WebhookEvent{OrderCode: "ORD-113"}, &GatewayOrderState{
		OrderCode: "ORD-113",
		Status:    models.PaymentStatusPending,
	})
	assert.Error(t, err)
}
