// Package ingest orchestrates the event ingestion pipeline: payload
// validation, tenant attribution, visitor resolution, user-agent
// classification, session touch and the final event write — in that
// order. A session row always exists before the event referencing it.
package ingest

import (
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"github.com/Datafloww/server/internal/events"
	"github.com/Datafloww/server/internal/models"
	"github.com/Datafloww/server/internal/pkg/geoip"
	"github.com/Datafloww/server/internal/pkg/useragent"
	"github.com/Datafloww/server/internal/sessions"
	"github.com/Datafloww/server/internal/visitors"
)

// KeyStore resolves write keys to tenant identifiers. Injected as an
// explicit collaborator so the pipeline stays independent of the key
// validation scheme.
type KeyStore interface {
	LookupTenantByKey(key string) (string, error)
}

// ValidationError is returned when a payload is missing required fields.
// Surfaced as a 400 by the HTTP layer.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// Input is one normalized ingestion payload. String fields use the empty
// string for "absent"; pointer fields distinguish zero from absent where
// that matters for the property bag.
type Input struct {
	EventName string
	EventType string
	WriteKey  string
	SessionID string
	UserID    string
	AnonID    string
	Timestamp time.Time // zero value means "use server time"

	URL          string
	Path         string
	Hostname     string
	Referrer     string
	UserAgent    string
	Language     string
	ScreenSize   string
	ViewportSize string

	Geo        map[string]interface{}
	Properties map[string]interface{}
	Payload    map[string]interface{}
	Meta       map[string]interface{}
	Connection map[string]interface{}

	Duration    *float64
	ScrollDepth *float64

	ClientIP string
}

// Ingest runs the full pipeline for one payload and returns the id of the
// persisted event. The session touch must complete before the event row
// is written; any failure aborts the remainder of the pipeline.
func Ingest(dbManager cartridge.DBManager, logger *slog.Logger, keys KeyStore, input *Input) (uint, error) {
	if input.EventName == "" || input.EventType == "" {
		return 0, NewValidationError("Missing required fields: event and type are required")
	}

	tenantID, err := keys.LookupTenantByKey(input.WriteKey)
	if err != nil {
		return 0, err
	}

	db := dbManager.GetConnection()
	deviceInfo := useragent.Classify(input.UserAgent)
	properties := buildProperties(input)

	// Events may be fully anonymous; the visitor row is only ensured when
	// the payload identifies a user.
	userID := ""
	if input.UserID != "" {
		userID, err = visitors.EnsureVisitor(db, logger, tenantID, input.UserID, input.AnonID)
		if err != nil {
			logger.Error("Failed to resolve visitor", slog.Any("error", err),
				slog.String("user_id", input.UserID))
			return 0, err
		}
	}

	sessionID := input.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	// Session-before-event ordering: the touch must be durable before the
	// event insert is issued.
	err = sessions.Touch(db, logger, &sessions.TouchInput{
		SessionID:  sessionID,
		TenantID:   tenantID,
		UserID:     userID,
		AnonID:     input.AnonID,
		EventName:  input.EventName,
		EventType:  input.EventType,
		Path:       input.Path,
		Referrer:   input.Referrer,
		UserAgent:  input.UserAgent,
		DeviceInfo: deviceInfo,
	})
	if err != nil {
		logger.Error("Failed to touch session", slog.Any("error", err),
			slog.String("session_id", sessionID))
		return 0, fmt.Errorf("failed to update session: %w", err)
	}

	createdAt := input.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	event := &events.Event{
		TenantID:   tenantID,
		UserID:     userID,
		AnonID:     input.AnonID,
		SessionID:  sessionID,
		EventName:  input.EventName,
		EventType:  input.EventType,
		URL:        input.URL,
		Path:       input.Path,
		Referrer:   input.Referrer,
		UserAgent:  input.UserAgent,
		Browser:    deviceInfo.Browser,
		OS:         deviceInfo.OS,
		DeviceType: deviceInfo.DeviceType,
		ClientIP:   input.ClientIP,
		Properties: models.JSONFromMap(properties),
		CreatedAt:  createdAt,
	}

	err = models.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(event).Error
	})
	if err != nil {
		logger.Error("Failed to store event", slog.Any("error", err),
			slog.String("session_id", sessionID),
			slog.String("event_name", input.EventName))
		return 0, fmt.Errorf("failed to store event: %w", err)
	}

	return event.ID, nil
}

// buildProperties shallow-merges the free-form property sources into one
// structured bag. Merge order is fixed; later sources win on collision:
// properties, payload, then the flattened context fields.
func buildProperties(input *Input) map[string]interface{} {
	merged := make(map[string]interface{})

	for k, v := range input.Properties {
		merged[k] = v
	}
	for k, v := range input.Payload {
		merged[k] = v
	}

	geo := input.Geo
	if len(geo) == 0 {
		geo = lookupGeo(input.ClientIP)
	}
	merged["geo"] = geo

	meta := input.Meta
	if meta == nil {
		meta = map[string]interface{}{}
	}
	merged["meta"] = meta

	setIfPresent(merged, "url", input.URL)
	setIfPresent(merged, "path", input.Path)
	setIfPresent(merged, "hostname", input.Hostname)
	setIfPresent(merged, "referrer", input.Referrer)
	setIfPresent(merged, "language", input.Language)
	setIfPresent(merged, "screenSize", input.ScreenSize)
	setIfPresent(merged, "viewportSize", input.ViewportSize)

	if input.Connection != nil {
		merged["connection"] = input.Connection
	}
	if input.Duration != nil {
		merged["duration"] = *input.Duration
	}
	if input.ScrollDepth != nil {
		merged["scrollDepth"] = *input.ScrollDepth
	}

	return merged
}

func setIfPresent(m map[string]interface{}, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// lookupGeo derives a minimal geo object from the client IP when the
// payload did not carry one. Best effort: empty when GeoIP is disabled.
func lookupGeo(clientIP string) map[string]interface{} {
	geo := map[string]interface{}{}
	if clientIP == "" {
		return geo
	}
	if country := geoip.CountryFromIP(clientIP); country != "" {
		geo["country"] = country
	}
	return geo
}
