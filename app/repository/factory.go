package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Repositories bundles all repository instances.
type Repositories struct {
	Order        OrderRepository
	Payment      PaymentRepository
	WebhookEvent WebhookEventRepository
	PaymentAudit PaymentAuditRepository
}

// NewRepositories creates all repositories from one DB handle.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Order:        NewOrderRepository(db),
		Payment:      NewPaymentRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		PaymentAudit: NewPaymentAuditRepository(db),
	}
}

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// GetOrderRepository returns the order repository instance
func (f *Factory) GetOrderRepository() OrderRepository {
	return f.GetRepositories().Order
}

// GetPaymentRepository returns the payment repository instance
func (f *Factory) GetPaymentRepository() PaymentRepository {
	return f.GetRepositories().Payment
}

// GetWebhookEventRepository returns the webhook event repository instance
func (f *Factory) GetWebhookEventRepository() WebhookEventRepository {
	return f.GetRepositories().WebhookEvent
}

// GetPaymentAuditRepository returns the audit repository instance
func (f *Factory) GetPaymentAuditRepository() PaymentAuditRepository {
	return f.GetRepositories().PaymentAudit
}
