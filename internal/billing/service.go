package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pitchside/pitchside-backend/pkg/db/models"
	"github.com/pitchside/pitchside-backend/pkg/enums"
	pkgerrors "github.com/pitchside/pitchside-backend/pkg/errors"
	"github.com/pitchside/pitchside-backend/pkg/pagination"
)

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo Repository
}

// Service exposes read surfaces over the ledger and history log.
type Service struct {
	repo Repository
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

// ListPaymentsParams carries the caller-facing ledger query inputs.
type ListPaymentsParams struct {
	AcademyID uuid.UUID
	Limit     int
	Cursor    string
	Status    *enums.PaymentStatus
	Method    *enums.PaymentMethod
}

// ListPaymentsResult is one ledger page plus the encoded cursor for the next.
type ListPaymentsResult struct {
	Items  []models.Payment
	Cursor string
}

// ListPayments returns a cursor-paginated page of the academy's ledger.
func (s *Service) ListPayments(ctx context.Context, params ListPaymentsParams) (*ListPaymentsResult, error) {
	if params.AcademyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "academy id is required")
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	payments, next, err := s.repo.ListPayments(ctx, ListPaymentsQuery{
		AcademyID: params.AcademyID,
		Limit:     params.Limit,
		Cursor:    cursor,
		Status:    params.Status,
		Method:    params.Method,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}

	result := &ListPaymentsResult{Items: payments}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

// ListSubscriptions returns the academy's full subscription trail, newest first.
func (s *Service) ListSubscriptions(ctx context.Context, academyID uuid.UUID) ([]models.Subscription, error) {
	if academyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "academy id is required")
	}
	subs, err := s.repo.ListSubscriptionsByAcademy(ctx, academyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions")
	}
	return subs, nil
}

// ListHistory returns the audit trail for one subscription.
func (s *Service) ListHistory(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionHistory, error) {
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	entries, err := s.repo.ListHistoryBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list history")
	}
	return entries, nil
}
