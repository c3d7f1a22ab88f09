package subscriptions

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/pitchside/pitchside-backend/pkg/db/models"
	"github.com/pitchside/pitchside-backend/pkg/enums"
	pkgerrors "github.com/pitchside/pitchside-backend/pkg/errors"
)

// BuildSubscriptionFromStripe maps a live Stripe subscription into the canonical model.
func BuildSubscriptionFromStripe(stripeSub *stripe.Subscription, academyID, planID uuid.UUID) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}
	if academyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "academy id is required")
	}

	status := mapStripeStatus(stripeSub.Status)
	startsAt, endsAt := periodFromStripe(stripeSub)
	if startsAt.IsZero() {
		startsAt = time.Now().UTC()
	}
	if endsAt.IsZero() {
		endsAt = startsAt.AddDate(0, 1, 0)
	}

	stripeID := strings.TrimSpace(stripeSub.ID)
	var ref *string
	if stripeID != "" {
		ref = &stripeID
	}

	return &models.Subscription{
		AcademyID:            academyID,
		PlanID:               planID,
		Status:               status,
		StartsAt:             startsAt,
		EndsAt:               endsAt,
		AutoRenew:            !stripeSub.CancelAtPeriodEnd,
		StripeSubscriptionID: ref,
		LastEventAt:          eventTimePtr(stripeSub.Created),
	}, nil
}

// UpdateSubscriptionFromStripe overwrites the local row's status, billing
// window, and auto-renew flag from the processor's view.
func UpdateSubscriptionFromStripe(target *models.Subscription, stripeSub *stripe.Subscription) error {
	if target == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "target subscription is nil")
	}
	if stripeSub == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}

	target.Status = mapStripeStatus(stripeSub.Status)
	target.AutoRenew = !stripeSub.CancelAtPeriodEnd
	startsAt, endsAt := periodFromStripe(stripeSub)
	if !startsAt.IsZero() {
		target.StartsAt = startsAt
	}
	if !endsAt.IsZero() {
		target.EndsAt = endsAt
	}
	if stripeID := strings.TrimSpace(stripeSub.ID); stripeID != "" {
		target.StripeSubscriptionID = &stripeID
	}
	return nil
}

// AcademyIDFromMetadata extracts the academy ID attached to Stripe metadata.
func AcademyIDFromMetadata(metadata map[string]string) (uuid.UUID, error) {
	if metadata == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription metadata is required")
	}
	academyID, ok := metadata["academy_id"]
	if !ok || strings.TrimSpace(academyID) == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "academy_id missing from metadata")
	}
	id, err := uuid.Parse(strings.TrimSpace(academyID))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid academy_id metadata")
	}
	return id, nil
}

// IsLiveStatus reports whether the status occupies the one-per-academy slot.
func IsLiveStatus(status enums.SubscriptionStatus) bool {
	switch status {
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing, enums.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// StaleEvent reports whether an event timestamp predates the row's last
// applied event. Events carrying no timestamp are never treated as stale.
func StaleEvent(target *models.Subscription, eventAt time.Time) bool {
	if target == nil || target.LastEventAt == nil || eventAt.IsZero() {
		return false
	}
	return eventAt.Before(*target.LastEventAt)
}

func mapStripeStatus(raw stripe.SubscriptionStatus) enums.SubscriptionStatus {
	switch raw {
	case stripe.SubscriptionStatusActive:
		return enums.SubscriptionStatusActive
	case stripe.SubscriptionStatusTrialing:
		return enums.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return enums.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusPaused:
		return enums.SubscriptionStatusCanceled
	case stripe.SubscriptionStatusIncompleteExpired:
		return enums.SubscriptionStatusExpired
	case stripe.SubscriptionStatusIncomplete:
		return enums.SubscriptionStatusPastDue
	default:
		// An unrecognized processor status must never grant entitlement.
		return enums.SubscriptionStatusPastDue
	}
}

// Billing periods live on the subscription items in current Stripe API versions.
func periodFromStripe(sub *stripe.Subscription) (time.Time, time.Time) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return time.Time{}, time.Time{}
	}
	item := sub.Items.Data[0]
	if item == nil {
		return time.Time{}, time.Time{}
	}
	return toTime(item.CurrentPeriodStart), toTime(item.CurrentPeriodEnd)
}

func toTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func eventTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
