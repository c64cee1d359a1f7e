package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/smtp"

	"github.com/vutran/payrec/app/models"
	"github.com/vutran/payrec/internal/pkg/env"
)

// Notifier dispatches the "payment completed" notification. The engine
// guarantees at most one attempt per payment; failures are logged and left
// to an out-of-band resend facility, never retried inline.
type Notifier interface {
	Notify(ctx context.Context, payment *models.Payment) error
}

// SMTPNotifier emails the configured recipient once per completed payment.
type SMTPNotifier struct {
	Host      string
	Port      string
	Username  string
	Password  string
	Sender    string
	Recipient string
}

// NewSMTPNotifierFromEnv builds the notifier from SMTP_* / NOTIFY_* env keys.
func NewSMTPNotifierFromEnv() *SMTPNotifier {
	return &SMTPNotifier{
		Host:      env.GetEnv("SMTP_HOST", ""),
		Port:      env.GetEnv("SMTP_PORT", ""),
		Username:  env.GetEnv("SMTP_USERNAME", ""),
		Password:  env.GetEnv("SMTP_PASSWORD", ""),
		Sender:    env.GetEnv("SMTP_SENDER", ""),
		Recipient: env.GetEnv("NOTIFY_RECIPIENT", ""),
	}
}

func (n *SMTPNotifier) Notify(ctx context.Context, payment *models.Payment) error {
	_ = ctx
	if n.Recipient == "" {
		return errors.New("NOTIFY_RECIPIENT is not configured")
	}

	sender := n.Sender
	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if n.Username != "" && n.Password != "" {
		auth = smtp.PlainAuth("", n.Username, n.Password, n.Host)
	}

	addr := fmt.Sprintf("%s:%s", n.Host, n.Port)
	subject := fmt.Sprintf("Payment completed for order %s", payment.OrderCode)
	body := fmt.Sprintf(
		"<p>Order <strong>%s</strong> settled successfully.</p>"+
			"<p>Amount: %d<br>Gateway transaction: %s</p>",
		payment.OrderCode, payment.Amount, payment.GatewayTransactionID,
	)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, n.Recipient, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{n.Recipient}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Payment notification sent to %s via %s", n.Recipient, addr)
	}
	return err
}
