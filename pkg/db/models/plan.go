package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/pitchside/pitchside-backend/pkg/enums"
)

// PlayerLimitUnlimited is the sentinel for plans without a roster cap.
const PlayerLimitUnlimited = -1

// Plan is a catalog entry an academy can subscribe to. Rows referenced by a
// subscription stay put; price/limit corrections never rewrite old
// subscriptions.
type Plan struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	Code              string                 `gorm:"column:code;not null;uniqueIndex"`
	Name              string                 `gorm:"column:name;not null"`
	Status            enums.PlanStatus       `gorm:"column:status;not null;default:'active'"`
	PriceAmount       decimal.Decimal        `gorm:"column:price_amount;type:numeric(12,2);not null"`
	AnnualPriceAmount *decimal.Decimal       `gorm:"column:annual_price_amount;type:numeric(12,2)"`
	CurrencyCode      string                 `gorm:"column:currency_code;not null"`
	Interval          *enums.BillingInterval `gorm:"column:billing_interval"`
	MaxPlayers        int                    `gorm:"column:max_players;not null;default:-1"`
	StripeProductID   *string                `gorm:"column:stripe_product_id"`
	StripePriceID     *string                `gorm:"column:stripe_price_id"`
	Features          pq.StringArray         `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// IsFree reports whether subscribing to the plan involves no charge.
func (p *Plan) IsFree() bool {
	return p.PriceAmount.IsZero()
}
