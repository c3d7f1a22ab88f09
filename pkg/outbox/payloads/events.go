package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/pitchside/pitchside-backend/pkg/enums"
)

// SubscriptionActivatedEvent is emitted when an academy lands on a plan,
// whether from checkout, an admin upgrade, or a processor webhook.
type SubscriptionActivatedEvent struct {
	SubscriptionID uuid.UUID                `json:"subscriptionId"`
	AcademyID      uuid.UUID                `json:"academyId"`
	PlanID         uuid.UUID                `json:"planId"`
	PlanCode       string                   `json:"planCode"`
	Status         enums.SubscriptionStatus `json:"status"`
	StartsAt       time.Time                `json:"startsAt"`
	EndsAt         *time.Time               `json:"endsAt,omitempty"`
}

// SubscriptionCanceledEvent is emitted when a subscription reaches a terminal state.
type SubscriptionCanceledEvent struct {
	SubscriptionID uuid.UUID                `json:"subscriptionId"`
	AcademyID      uuid.UUID                `json:"academyId"`
	PlanID         uuid.UUID                `json:"planId"`
	Status         enums.SubscriptionStatus `json:"status"`
	CanceledAt     time.Time                `json:"canceledAt"`
	Reason         string                   `json:"reason,omitempty"`
}

// SubscriptionPastDueEvent warns downstream systems that renewal payment failed.
type SubscriptionPastDueEvent struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	AcademyID      uuid.UUID `json:"academyId"`
	PlanID         uuid.UUID `json:"planId"`
	FailedAt       time.Time `json:"failedAt"`
}

// PaymentRecordedEvent mirrors a ledger row so notification consumers can
// send receipts without querying the database.
type PaymentRecordedEvent struct {
	PaymentID      uuid.UUID           `json:"paymentId"`
	AcademyID      uuid.UUID           `json:"academyId"`
	SubscriptionID *uuid.UUID          `json:"subscriptionId,omitempty"`
	Amount         string              `json:"amount"`
	CurrencyCode   string              `json:"currencyCode"`
	Method         enums.PaymentMethod `json:"method"`
	Status         enums.PaymentStatus `json:"status"`
	RecordedAt     time.Time           `json:"recordedAt"`
}
