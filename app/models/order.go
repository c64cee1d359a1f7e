package models

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// ErrOrderAlreadyLinked is returned when an order is re-linked to a
// different entity.
var ErrOrderAlreadyLinked = errors.New("order is already linked to a different entity")

// Order records the intent to pay. It is created once by the component that
// initiates a payment and is immutable afterwards, except for attaching the
// linked entity reference when it was not known at creation time.
type Order struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrderCode      string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_orders_order_code" json:"order_code" validate:"required,min=3,max=64"`
	Amount         int64     `gorm:"not null" json:"amount" validate:"required,gt=0"`
	Description    string    `gorm:"type:varchar(255)" json:"description" validate:"max=255"`
	LinkedEntityID string    `gorm:"type:varchar(64);default:null;index" json:"linked_entity_id,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *Order) Validate() error {
	v := validator.New()

	return v.Struct(o)
}

// FindOrderByCode loads an order by its unique order code.
func FindOrderByCode(db *gorm.DB, orderCode string) (*Order, error) {
	var order Order
	if err := db.Where("order_code = ?", orderCode).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// AttachLinkedEntity sets the linked entity reference once. Re-linking to a
// different entity is refused; orders never change their target silently.
func (o *Order) AttachLinkedEntity(db *gorm.DB, entityID string) error {
	if entityID == "" {
		return errors.New("entity id is required")
	}
	if o.LinkedEntityID != "" && o.LinkedEntityID != entityID {
		return ErrOrderAlreadyLinked
	}
	if o.LinkedEntityID == entityID {
		return nil
	}
	o.LinkedEntityID = entityID
	return db.Model(o).Update("linked_entity_id", entityID).Error
}
