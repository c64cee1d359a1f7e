package payment

import (
	"context"
	"regexp"

	"github.com/vutran/payrec/app/models"
	"gorm.io/gorm"
)

var entityRefPattern = regexp.MustCompile(`\b(appt|appointment|record|mr):([A-Za-z0-9_-]+)`)

// EntityRefFromDescription recovers a structured entity reference embedded
// in an order description, e.g. "Consultation fee appt:APT-204". Returns
// "" when the description carries no recognizable token.
func EntityRefFromDescription(desc string) string {
	m := entityRefPattern.FindStringSubmatch(desc)
	if m == nil {
		return ""
	}
	kind := m[1]
	switch kind {
	case "appointment":
		kind = "appt"
	case "mr":
		kind = "record"
	}
	return kind + ":" + m[2]
}

// orderEntityLinker resolves entity references from the orders table,
// falling back to structured tokens in the order description.
type orderEntityLinker struct {
	db *gorm.DB
}

// NewOrderEntityLinker builds the default EntityLinker backed by the
// orders table.
func NewOrderEntityLinker(db *gorm.DB) EntityLinker {
	return &orderEntityLinker{db: db}
}

func (l *orderEntityLinker) LinkOrderToEntity(ctx context.Context, orderCode string) (string, error) {
	order, err := models.FindOrderByCode(l.db.WithContext(ctx), orderCode)
	if err != nil {
		return "", err
	}
	if order.LinkedEntityID != "" {
		return order.LinkedEntityID, nil
	}
	return EntityRefFromDescription(order.Description), nil
}
