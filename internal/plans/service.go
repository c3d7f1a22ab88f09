package plans

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/pitchside/pitchside-backend/pkg/db"
	"github.com/pitchside/pitchside-backend/pkg/db/models"
	"github.com/pitchside/pitchside-backend/pkg/enums"
	pkgerrors "github.com/pitchside/pitchside-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the plan catalog service.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
}

// Service resolves and lists catalog plans.
type Service struct {
	repo     Repository
	txRunner txRunner
}

// NewService builds a plan catalog service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("plan repo required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &Service{
		repo:     params.Repo,
		txRunner: params.TransactionRunner,
	}, nil
}

// Resolve accepts a durable plan UUID or a fallback code. Fallback codes are
// materialized into the catalog on first use (resolve-or-create, idempotent by
// unique code) so downstream foreign keys always reference a catalog row.
func (s *Service) Resolve(ctx context.Context, identifier string) (*models.Plan, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan identifier is required")
	}

	if id, err := uuid.Parse(identifier); err == nil {
		plan, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup plan")
		}
		if plan == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
		}
		return plan, nil
	}

	code := strings.ToLower(identifier)
	plan, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup plan by code")
	}
	if plan != nil {
		return plan, nil
	}

	seed, ok := SeedPlan(code)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("unknown plan %q", identifier))
	}
	return s.materialize(ctx, seed)
}

// List returns catalog plans, optionally filtered by status.
func (s *Service) List(ctx context.Context, status *enums.PlanStatus) ([]models.Plan, error) {
	plans, err := s.repo.List(ctx, ListPlansQuery{Status: status})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
	}
	return plans, nil
}

// materialize inserts the seed row inside a transaction. A concurrent insert
// losing the unique-code race falls back to re-reading the winner's row.
func (s *Service) materialize(ctx context.Context, seed *models.Plan) (*models.Plan, error) {
	var created *models.Plan
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		existing, err := txRepo.FindByCode(ctx, seed.Code)
		if err != nil {
			return err
		}
		if existing != nil {
			created = existing
			return nil
		}
		seed.ID = uuid.New()
		if err := txRepo.Create(ctx, seed); err != nil {
			return err
		}
		created = seed
		return nil
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "idx_plans_code") {
			plan, findErr := s.repo.FindByCode(ctx, seed.Code)
			if findErr == nil && plan != nil {
				return plan, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "materialize plan")
	}
	return created, nil
}
