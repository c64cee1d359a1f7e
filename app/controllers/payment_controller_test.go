package controllers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vutran/payrec/app/models"
	"github.com/vutran/payrec/app/repository"
	"github.com/vutran/payrec/internal/pkg/payment"
	"gorm.io/gorm"
)

func newPaymentTestApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()
	db := newControllerTestDB(t)
	svc := payment.NewService(db, nil, nil, testChecksumKey)
	InitializePaymentController(svc, repository.NewRepositories(db))

	app := fiber.New()
	app.Post("/api/v1/orders", HandleCreateOrder)
	app.Patch("/api/v1/orders/:orderCode/link", HandleLinkOrder)
	app.Get("/api/v1/payments/:orderCode", HandleGetPaymentStatus)
	return app, db
}

func TestHandleCreateOrder(t *testing.T) {
	app, db := newPaymentTestApp(t)

	body := []byte(`{"orderCode":"ORD-2000","amount":500,"description":"Consultation"}`)
	req := httptest.NewRequest("POST", "/api/v1/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var p models.Payment
	require.NoError(t, db.Where("order_code = ?", "ORD-2000").First(&p).Error)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.Equal(t, int64(500), p.Amount)
}

func TestHandleCreateOrderGeneratesCode(t *testing.T) {
	app, _ := newPaymentTestApp(t)

	req := httptest.NewRequest("POST", "/api/v1/orders", bytes.NewReader([]byte(`{"amount":500}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body struct {
		Order models.Order `json:"order"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Contains(t, body.Order.OrderCode, "ORD-")
}

func TestHandleCreateOrderRejectsInvalidAmount(t *testing.T) {
	app, _ := newPaymentTestApp(t)

	req := httptest.NewRequest("POST", "/api/v1/orders", bytes.NewReader([]byte(`{"orderCode":"ORD-2001","amount":0}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleCreateOrderRejectsDuplicate(t *testing.T) {
	app, _ := newPaymentTestApp(t)

	body := []byte(`{"orderCode":"ORD-2002","amount":500}`)
	for i, want := range []int{fiber.StatusCreated, fiber.StatusConflict} {
		req := httptest.NewRequest("POST", "/api/v1/orders", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, "request %d", i)
	}
}

func TestHandleGetPaymentStatus(t *testing.T) {
	app, db := newPaymentTestApp(t)
	require.NoError(t, db.Create(&models.Payment{OrderCode: "ORD-2003", Status: models.PaymentStatusCompleted, Amount: 100}).Error)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/payments/ORD-2003", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var p models.Payment
	require.NoError(t, json.Unmarshal(raw, &p))
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/payments/ORD-MISSING", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHandleLinkOrder(t *testing.T) {
	app, db := newPaymentTestApp(t)
	require.NoError(t, db.Create(&models.Order{OrderCode: "ORD-2004", Amount: 100}).Error)

	link := func(orderCode, entityID string) int {
		body := []byte(`{"entityId":"` + entityID + `"}`)
		req := httptest.NewRequest("PATCH", "/api/v1/orders/"+orderCode+"/link", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, link("ORD-2004", "appt:A1"))

	// Same entity again is fine, a different one is refused.
	assert.Equal(t, fiber.StatusOK, link("ORD-2004", "appt:A1"))
	assert.Equal(t, fiber.StatusConflict, link("ORD-2004", "appt:B2"))

	assert.Equal(t, fiber.StatusNotFound, link("ORD-MISSING", "appt:A1"))

	// Missing entity id.
	req := httptest.NewRequest("PATCH", "/api/v1/orders/ORD-2004/link", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
