package models

import (
	"time"

	"github.com/google/uuid"
)

// Academy is the billable tenant: a football academy subscribing to the
// platform.
type Academy struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name             string    `gorm:"column:name;not null"`
	ContactEmail     string    `gorm:"column:contact_email;not null;uniqueIndex"`
	StripeCustomerID *string   `gorm:"column:stripe_customer_id;uniqueIndex"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
