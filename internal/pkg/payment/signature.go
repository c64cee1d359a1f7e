package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ComputeSignature builds the HMAC-SHA256 checksum over the canonical data
// string the gateway signs: data fields sorted by key, joined as
// key=value pairs with '&'.
func ComputeSignature(data WebhookPayloadData, checksumKey string) string {
	canonical := fmt.Sprintf("amount=%d&orderCode=%s&reference=%s",
		data.Amount, data.OrderCode, data.Reference)
	mac := hmac.New(sha256.New, []byte(checksumKey))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks the payload's signature field against the
// configured checksum key. Empty signature or key never verifies.
func VerifyWebhookSignature(p *WebhookPayload, checksumKey string) bool {
	sig := strings.ToLower(strings.TrimSpace(p.Signature))
	secret := strings.TrimSpace(checksumKey)
	if sig == "" || secret == "" {
		return false
	}

	decodedSig, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	expected, err := hex.DecodeString(ComputeSignature(p.Data, secret))
	if err != nil {
		return false
	}
	return hmac.Equal(decodedSig, expected)
}
