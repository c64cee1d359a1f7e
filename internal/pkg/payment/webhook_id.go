package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DeriveWebhookID computes the stable identity of a gateway notification.
// When the gateway supplies an event id it is used directly; otherwise the
// id is a hash over the fields that identify the real-world event. Receipt
// time and random values are never inputs, so a redelivered notification
// always maps to the same id.
func DeriveWebhookID(p *WebhookPayload) string {
	if id := strings.TrimSpace(p.Data.PaymentLinkID); id != "" {
		return "evt:" + id
	}
	sum := sha256.Sum256([]byte(p.Data.OrderCode + "|" + p.Data.Reference + "|" + p.Code))
	return "hash:" + hex.EncodeToString(sum[:])
}
