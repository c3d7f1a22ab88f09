package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pitchside/pitchside-backend/pkg/enums"
)

// Payment is one attempt in the append-only payment ledger. A failed attempt
// is never reused: a retry gets its own row. SubscriptionID is nil for
// standalone one-off payments.
type Payment struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	AcademyID       uuid.UUID           `gorm:"column:academy_id;type:uuid;not null;index"`
	SubscriptionID  *uuid.UUID          `gorm:"column:subscription_id;type:uuid;index"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	CurrencyCode    string              `gorm:"column:currency_code;not null"`
	Method          enums.PaymentMethod `gorm:"column:method;not null"`
	Status          enums.PaymentStatus `gorm:"column:status;not null"`
	StripeReference *string             `gorm:"column:stripe_reference;uniqueIndex"`
	Note            *string             `gorm:"column:note"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
