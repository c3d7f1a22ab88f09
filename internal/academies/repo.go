package academies

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitchside/pitchside-backend/pkg/db/models"
)

// Repository handles academy persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to academy operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create persists a new academy row.
func (r *Repository) Create(ctx context.Context, academy *models.Academy) error {
	if academy == nil {
		return fmt.Errorf("academy is required")
	}
	return r.db.WithContext(ctx).Create(academy).Error
}

// FindByID loads an academy by its UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Academy, error) {
	var academy models.Academy
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&academy).Error; err != nil {
		return nil, err
	}
	return &academy, nil
}

// FindByContactEmail looks up an academy by its unique contact email.
func (r *Repository) FindByContactEmail(ctx context.Context, email string) (*models.Academy, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var academy models.Academy
	if err := r.db.WithContext(ctx).
		Where("LOWER(contact_email) = ?", email).
		First(&academy).Error; err != nil {
		return nil, err
	}
	return &academy, nil
}

// FindByStripeCustomerID resolves an academy from its processor customer handle.
// Returns nil without error when no academy carries the handle.
func (r *Repository) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Academy, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, nil
	}
	var academy models.Academy
	if err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		First(&academy).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &academy, nil
}

// Update saves the provided academy.
func (r *Repository) Update(ctx context.Context, academy *models.Academy) error {
	if academy == nil {
		return fmt.Errorf("academy is required")
	}
	return r.db.WithContext(ctx).Save(academy).Error
}

// UpdateStripeCustomerID stores the processor customer handle for the academy.
func (r *Repository) UpdateStripeCustomerID(ctx context.Context, academyID uuid.UUID, customerID string) error {
	if academyID == uuid.Nil {
		return fmt.Errorf("academy id is required")
	}
	var value *string
	if trimmed := strings.TrimSpace(customerID); trimmed != "" {
		value = &trimmed
	}
	return r.db.WithContext(ctx).
		Model(&models.Academy{}).
		Where("id = ?", academyID).
		Update("stripe_customer_id", value).Error
}

// FindByIDWithTx loads an academy using the provided transaction.
func (r *Repository) FindByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.Academy, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	var academy models.Academy
	if err := tx.First(&academy, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &academy, nil
}

// UpdateWithTx persists the academy using the provided transaction.
func (r *Repository) UpdateWithTx(tx *gorm.DB, academy *models.Academy) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	if academy == nil {
		return fmt.Errorf("academy is required")
	}
	return tx.Save(academy).Error
}
