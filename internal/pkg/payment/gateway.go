package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vutran/payrec/app/models"
	"github.com/vutran/payrec/internal/pkg/env"
)

// GatewayQueryClient looks up the authoritative state of an order at the
// payment gateway. Used only by reconciliation; never called inside a
// database transaction.
type GatewayQueryClient interface {
	QueryOrder(ctx context.Context, orderCode string) (*GatewayOrderState, error)
}

// HTTPGatewayClient queries the gateway's payment-request API.
type HTTPGatewayClient struct {
	BaseURL  string
	ClientID string
	APIKey   string

	HTTPClient *http.Client
}

// NewGatewayClientFromEnv builds the client from GATEWAY_* env keys.
func NewGatewayClientFromEnv() *HTTPGatewayClient {
	return &HTTPGatewayClient{
		BaseURL:  strings.TrimRight(env.GetEnv("GATEWAY_API_BASE_URL", ""), "/"),
		ClientID: strings.TrimSpace(env.GetEnv("GATEWAY_CLIENT_ID", "")),
		APIKey:   strings.TrimSpace(env.GetEnv("GATEWAY_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type gatewayOrderResponse struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
	Data struct {
		OrderCode string `json:"orderCode"`
		Amount    int64  `json:"amount"`
		Status    string `json:"status"`
		Reference string `json:"reference"`
	} `json:"data"`
}

func (c *HTTPGatewayClient) QueryOrder(ctx context.Context, orderCode string) (*GatewayOrderState, error) {
	if strings.TrimSpace(c.BaseURL) == "" {
		return nil, errors.New("GATEWAY_API_BASE_URL is not configured")
	}

	endpoint := fmt.Sprintf("%s/v1/payment-requests/%s", c.BaseURL, url.PathEscape(orderCode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-client-id", c.ClientID)
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway query failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway query returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var r gatewayOrderResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("gateway response unparsable: %w", err)
	}
	if r.Code != GatewayCodeSuccess {
		return nil, fmt.Errorf("gateway query rejected: code=%s desc=%s", r.Code, r.Desc)
	}

	return &GatewayOrderState{
		OrderCode:     r.Data.OrderCode,
		Status:        mapGatewayOrderStatus(r.Data.Status),
		Amount:        r.Data.Amount,
		TransactionID: r.Data.Reference,
	}, nil
}

// mapGatewayOrderStatus translates the gateway's order status vocabulary
// into internal payment statuses.
func mapGatewayOrderStatus(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PAID":
		return models.PaymentStatusCompleted
	case "CANCELLED":
		return models.PaymentStatusCancelled
	case "EXPIRED", "FAILED":
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusPending
	}
}
