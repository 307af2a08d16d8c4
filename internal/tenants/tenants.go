package tenants

import (
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Datafloww/server/internal/models"
)

// TenantNotFoundError is returned when no tenant matches a lookup.
type TenantNotFoundError struct {
	TenantID string
}

func (e *TenantNotFoundError) Error() string {
	return fmt.Sprintf("tenant not found: %s", e.TenantID)
}

// NewTenantNotFoundError creates a new TenantNotFoundError
func NewTenantNotFoundError(tenantID string) *TenantNotFoundError {
	return &TenantNotFoundError{TenantID: tenantID}
}

// Tenant represents a registered customer account. A tenant owns all
// visitors, sessions and events attributed to its write keys.
type Tenant struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  string    `gorm:"uniqueIndex;not null" json:"tenant_id"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateTenant registers a new tenant account with a generated tenant id.
func CreateTenant(db *gorm.DB, logger *slog.Logger, email string) (*Tenant, error) {
	if email == "" {
		return nil, errors.New("email cannot be empty")
	}

	tenant := &Tenant{
		TenantID:  uuid.NewString(),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}

	err := models.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(tenant).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	return tenant, nil
}

// GetTenantByID retrieves a tenant by its stable tenant identifier.
func GetTenantByID(db *gorm.DB, tenantID string) (*Tenant, error) {
	var tenant Tenant
	if err := db.Where("tenant_id = ?", tenantID).First(&tenant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewTenantNotFoundError(tenantID)
		}
		return nil, fmt.Errorf("unexpected error querying tenant: %w", err)
	}
	return &tenant, nil
}
