// Package sessions maintains session continuity across ingested events.
// A session row is guaranteed to exist before any event referencing it is
// written; Touch is the single entry point enforcing that ordering.
package sessions

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"gorm.io/gorm"

	"github.com/Datafloww/server/internal/events"
	"github.com/Datafloww/server/internal/models"
	"github.com/Datafloww/server/internal/pkg/useragent"
)

// Session is a bounded browsing episode identified by a client-managed id.
//
// Invariants maintained by Touch:
//   - FirstSeen is set once and never changes.
//   - Duration is recomputed from FirstSeen on every touch, never
//     accumulated, so missed or out-of-order updates cannot skew it.
//   - PageViews and Interactions are monotonic non-decreasing.
//   - ExitPage always reflects the most recent event with a known path.
//   - UserID may go from empty to set (anonymous -> identified) but is
//     never cleared once set.
type Session struct {
	ID           string      `gorm:"primaryKey" json:"id"`
	TenantID     string      `gorm:"index;not null" json:"tenant_id"`
	UserID       string      `gorm:"index" json:"user_id"`
	AnonID       string      `gorm:"index" json:"anon_id"`
	FirstSeen    time.Time   `gorm:"not null" json:"first_seen"`
	LastSeen     time.Time   `gorm:"not null" json:"last_seen"`
	Duration     int         `gorm:"default:0" json:"duration"`
	PageViews    int         `gorm:"default:0" json:"page_views"`
	Interactions int         `gorm:"default:0" json:"interactions"`
	Referrer     string      `json:"referrer"`
	EntryPage    string      `json:"entry_page"`
	ExitPage     string      `json:"exit_page"`
	UserAgent    string      `json:"user_agent"`
	DeviceInfo   models.JSON `gorm:"type:text" json:"device_info"`
	Active       bool        `gorm:"default:true" json:"active"`
}

// TouchInput carries everything Touch needs from one ingested event.
type TouchInput struct {
	SessionID  string
	TenantID   string
	UserID     string
	AnonID     string
	EventName  string
	EventType  string
	Path       string
	Referrer   string
	UserAgent  string
	DeviceInfo useragent.DeviceInfo
}

// Touch finds the session for the given id and folds the event into its
// rolling statistics, creating the row first if this is the session's
// first event. It is called exactly once per ingested event, before the
// event row is written; any failure here must abort the whole ingestion.
func Touch(db *gorm.DB, logger *slog.Logger, input *TouchInput) error {
	if input.SessionID == "" {
		return errors.New("session id cannot be empty")
	}

	now := time.Now().UTC()

	var session Session
	err := db.Where("id = ?", input.SessionID).First(&session).Error
	if err == nil {
		return applyTouch(db, logger, &session, input, now)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("unexpected error querying session: %w", err)
	}

	createErr := createSession(db, logger, input, now)
	if createErr == nil {
		return nil
	}

	// Two concurrent first-events can race on the primary key. The
	// storage layer picks the winner; the loser re-reads and updates.
	if isDuplicateKey(createErr) {
		logger.Debug("Session insert lost race, retrying as update",
			slog.String("session_id", input.SessionID))
		if err := db.Where("id = ?", input.SessionID).First(&session).Error; err != nil {
			return fmt.Errorf("failed to re-read session after duplicate key: %w", err)
		}
		return applyTouch(db, logger, &session, input, now)
	}

	return createErr
}

// createSession seeds a fresh session row from its first event.
func createSession(db *gorm.DB, logger *slog.Logger, input *TouchInput, now time.Time) error {
	pageViews := 0
	if events.IsPageView(input.EventName, input.EventType) {
		pageViews = 1
	}
	interactions := 0
	if events.IsInteraction(input.EventType) {
		interactions = 1
	}

	session := &Session{
		ID:           input.SessionID,
		TenantID:     input.TenantID,
		UserID:       input.UserID,
		AnonID:       input.AnonID,
		FirstSeen:    now,
		LastSeen:     now,
		Duration:     0,
		PageViews:    pageViews,
		Interactions: interactions,
		Referrer:     input.Referrer,
		EntryPage:    input.Path,
		ExitPage:     input.Path,
		UserAgent:    input.UserAgent,
		DeviceInfo:   deviceInfoBlob(input.DeviceInfo, now),
		Active:       true,
	}

	return models.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(session).Error
	})
}

// applyTouch folds one event into an existing session's rolling stats.
func applyTouch(db *gorm.DB, logger *slog.Logger, session *Session, input *TouchInput, now time.Time) error {
	// Recomputed, not incremented: immune to missed updates as long as
	// FirstSeen is correct.
	duration := int(now.Sub(session.FirstSeen).Seconds())
	if duration < 0 {
		duration = 0
	}

	pageViews := session.PageViews
	if events.IsPageView(input.EventName, input.EventType) {
		pageViews++
	}

	interactions := session.Interactions
	if events.IsInteraction(input.EventType) {
		interactions++
	}

	exitPage := session.ExitPage
	if input.Path != "" {
		exitPage = input.Path
	}

	// Anonymous -> identified promotion; an existing user reference is
	// never overwritten.
	userID := session.UserID
	if userID == "" && input.UserID != "" {
		userID = input.UserID
	}

	updates := map[string]interface{}{
		"last_seen":    now,
		"duration":     duration,
		"page_views":   pageViews,
		"interactions": interactions,
		"exit_page":    exitPage,
		"user_id":      userID,
		"active":       true,
	}

	return models.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Model(&Session{}).Where("id = ?", session.ID).Updates(updates).Error
	})
}

// deviceInfoBlob merges the classified device info with the initial
// timestamp marker recorded at session creation.
func deviceInfoBlob(info useragent.DeviceInfo, now time.Time) models.JSON {
	return models.JSONFromMap(map[string]interface{}{
		"browser":          info.Browser,
		"os":               info.OS,
		"deviceType":       info.DeviceType,
		"initialTimestamp": now.Format(time.RFC3339),
	})
}

// isDuplicateKey reports whether an insert failed on a primary/unique key
// collision. The SQLite driver does not always translate to
// gorm.ErrDuplicatedKey, so the constraint message is matched as well.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// FindByID retrieves a session by its identifier.
func FindByID(db *gorm.DB, sessionID string) (*Session, error) {
	var session Session
	if err := db.Where("id = ?", sessionID).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// DeactivateIdleSessions flips active=false on sessions whose last event
// is older than the timeout. Called by the background scheduler, never by
// the ingestion path.
func DeactivateIdleSessions(db *gorm.DB, logger *slog.Logger, timeout time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-timeout)

	var affected int64
	err := models.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&Session{}).
			Where("active = ? AND last_seen < ?", true, cutoff).
			Update("active", false)
		affected = result.RowsAffected
		return result.Error
	})
	return affected, err
}
