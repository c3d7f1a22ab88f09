package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pitchside/pitchside-backend/pkg/enums"
)

// SubscriptionHistory is the append-only audit trail of subscription
// transitions. Rows are never updated or deleted.
type SubscriptionHistory struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	SubscriptionID uuid.UUID           `gorm:"column:subscription_id;type:uuid;not null;index"`
	Action         enums.HistoryAction `gorm:"column:action;not null"`
	OldPlanID      *uuid.UUID          `gorm:"column:old_plan_id;type:uuid"`
	NewPlanID      *uuid.UUID          `gorm:"column:new_plan_id;type:uuid"`
	Notes          *string             `gorm:"column:notes"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
}
