package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pitchside/pitchside-backend/pkg/enums"
)

// Subscription is the local record of an academy's plan membership. At most
// one row per academy carries status active; history rows are retained in
// terminal states, never deleted.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	AcademyID            uuid.UUID                `gorm:"column:academy_id;type:uuid;not null;index"`
	PlanID               uuid.UUID                `gorm:"column:plan_id;type:uuid;not null"`
	Status               enums.SubscriptionStatus `gorm:"column:status;not null;default:'active'"`
	StartsAt             time.Time                `gorm:"column:starts_at;not null"`
	EndsAt               time.Time                `gorm:"column:ends_at;not null"`
	AutoRenew            bool                     `gorm:"column:auto_renew;not null;default:true"`
	StripeSubscriptionID *string                  `gorm:"column:stripe_subscription_id;uniqueIndex"`
	// LastEventAt holds the processor timestamp of the newest lifecycle event
	// applied to this row; older webhook deliveries are ignored.
	LastEventAt *time.Time `gorm:"column:last_event_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
