// Package visitors maintains the durable identity records for tracked
// users. A visitor row is created lazily on the first event carrying a
// known external user id and reused afterwards.
package visitors

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"gorm.io/gorm"

	"github.com/Datafloww/server/internal/models"
)

// Visitor is a tenant-scoped identity keyed on the external user id the
// client SDK supplies.
type Visitor struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  string         `gorm:"index;not null" json:"tenant_id"`
	UserID    string         `gorm:"uniqueIndex;not null" json:"user_id"`
	AnonID    sql.NullString `gorm:"uniqueIndex" json:"anon_id"`
	Email     sql.NullString `json:"email"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// EnsureVisitor finds or creates the visitor row for an external user id
// and returns the canonical identifier. The call is idempotent: repeated
// calls with the same user id return the same identifier and leave exactly
// one row behind.
//
// Two concurrent first-events for the same new user id can race on the
// insert; the unique constraint on user_id is the authority, and the
// loser falls back to re-reading the winner's row.
func EnsureVisitor(db *gorm.DB, logger *slog.Logger, tenantID, userID, anonID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id cannot be empty")
	}

	var existing Visitor
	err := db.Where("user_id = ?", userID).First(&existing).Error
	if err == nil {
		return existing.UserID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("unexpected error querying visitor: %w", err)
	}

	visitor := Visitor{
		TenantID:  tenantID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	if anonID != "" {
		visitor.AnonID = sql.NullString{String: anonID, Valid: true}
	}

	createErr := models.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(&visitor).Error
	})
	if createErr == nil {
		return visitor.UserID, nil
	}

	// Lost a create race: the unique constraint rejected the insert, so
	// someone else owns the row now. Re-read it.
	if readErr := db.Where("user_id = ?", userID).First(&existing).Error; readErr == nil {
		logger.Debug("Visitor insert lost race, reusing existing row",
			slog.String("user_id", userID))
		return existing.UserID, nil
	}

	return "", fmt.Errorf("failed to create visitor: %w", createErr)
}

// FindByUserID retrieves a visitor by external user id.
func FindByUserID(db *gorm.DB, userID string) (*Visitor, error) {
	var visitor Visitor
	if err := db.Where("user_id = ?", userID).First(&visitor).Error; err != nil {
		return nil, err
	}
	return &visitor, nil
}
