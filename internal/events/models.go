package events

import (
	"time"

	"github.com/Datafloww/server/internal/models"
)

// Event is an immutable behavioral fact attributed to a tenant, session
// and (optionally) a visitor. Rows are never updated or deleted by the
// ingestion pipeline; retention cleanup is a background-job concern.
type Event struct {
	ID         uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID   string      `gorm:"index;not null" json:"tenant_id"`
	UserID     string      `gorm:"index" json:"user_id"`
	AnonID     string      `gorm:"index" json:"anon_id"`
	SessionID  string      `gorm:"index;not null" json:"session_id"`
	EventName  string      `gorm:"index;not null" json:"event_name"`
	EventType  string      `gorm:"index;not null" json:"event_type"`
	URL        string      `json:"url"`
	Path       string      `gorm:"index" json:"path"`
	Referrer   string      `json:"referrer"`
	UserAgent  string      `json:"user_agent"`
	Browser    string      `json:"browser"`
	OS         string      `json:"os"`
	DeviceType string      `json:"device_type"`
	ClientIP   string      `json:"client_ip"`
	Properties models.JSON `gorm:"type:text" json:"properties"`
	CreatedAt  time.Time   `gorm:"index;not null" json:"created_at"`
}
