package enums

// OutboxEventType names a domain event queued for asynchronous delivery.
type OutboxEventType string

const (
	OutboxEventSubscriptionActivated OutboxEventType = "subscription.activated"
	OutboxEventSubscriptionCanceled  OutboxEventType = "subscription.canceled"
	OutboxEventSubscriptionPastDue   OutboxEventType = "subscription.past_due"
	OutboxEventPaymentRecorded       OutboxEventType = "payment.recorded"
)

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	OutboxAggregateSubscription OutboxAggregateType = "subscription"
	OutboxAggregatePayment      OutboxAggregateType = "payment"
)

// OutboxDLQErrorReason classifies why an event was parked in the DLQ.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
)
