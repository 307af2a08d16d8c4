package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"github.com/Datafloww/server/internal/ingest"
	"github.com/Datafloww/server/internal/tenants"
)

const (
	errInvalidRequest  = "Invalid request"
	errInvalidWriteKey = "Invalid API key"
)

// Timestamp accepts either an RFC3339 string or an epoch number
// (seconds or milliseconds) from client SDKs. Unparseable values decode
// to the zero time so the server clock wins.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		t.Time = time.Time{}
		return nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				t.Time = parsed.UTC()
				return nil
			}
		}
		return nil
	}

	if epoch, err := strconv.ParseFloat(raw, 64); err == nil {
		// Values above ~1e12 are epoch milliseconds
		if epoch > 1e12 {
			t.Time = time.UnixMilli(int64(epoch)).UTC()
		} else {
			t.Time = time.Unix(int64(epoch), 0).UTC()
		}
	}
	return nil
}

// TrackEventParams is the ingestion request body, matching what both the
// tracking script and the npm SDK send.
type TrackEventParams struct {
	Event       string    `json:"event"`
	Type        string    `json:"type"`
	WriteKey    string    `json:"writeKey"`
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	AnonID      string    `json:"anonId"`
	AnonymousID string    `json:"anonymousId"`
	Timestamp   Timestamp `json:"timestamp"`

	URL          string `json:"url"`
	Path         string `json:"path"`
	Hostname     string `json:"hostname"`
	Referrer     string `json:"referrer"`
	UserAgent    string `json:"userAgent"`
	Language     string `json:"language"`
	ScreenSize   string `json:"screenSize"`
	ViewportSize string `json:"viewportSize"`

	Geo        map[string]interface{} `json:"geo"`
	Properties map[string]interface{} `json:"properties"`
	Payload    map[string]interface{} `json:"payload"`
	Meta       map[string]interface{} `json:"meta"`
	Connection map[string]interface{} `json:"connection"`
	Config     map[string]interface{} `json:"config"`

	Duration    *float64 `json:"duration"`
	ScrollDepth *float64 `json:"scrollDepth"`

	// Data carries the npm SDK's nested envelope; flattened before
	// ingestion by normalizeSDKEnvelope.
	Data *sdkEnvelope `json:"data"`
}

type sdkEnvelope struct {
	Payload *sdkPayload `json:"payload"`
}

type sdkPayload struct {
	Event       string                 `json:"event"`
	Type        string                 `json:"type"`
	SessionID   string                 `json:"sessionId"`
	UserID      string                 `json:"userId"`
	AnonymousID string                 `json:"anonymousId"`
	Properties  map[string]interface{} `json:"properties"`
	Traits      map[string]interface{} `json:"traits"`
	Meta        map[string]interface{} `json:"meta"`
}

// normalizeSDKEnvelope flattens the npm SDK's nested data.payload shape
// into the flat tracking-script shape. Script payloads pass through
// unchanged.
func normalizeSDKEnvelope(params *TrackEventParams) {
	if params.Data == nil || params.Data.Payload == nil {
		return
	}
	payload := params.Data.Payload

	params.Event = payload.Event
	if payload.Type == "identify" {
		params.Event = "Identify"
	}
	params.Type = payload.Type
	if payload.Type == "trackEnd" {
		params.Type = "track"
	}

	params.SessionID = payload.SessionID
	params.UserID = payload.UserID
	params.AnonID = payload.AnonymousID

	properties := make(map[string]interface{})
	for k, v := range payload.Properties {
		properties[k] = v
	}
	if payload.Traits != nil {
		properties["traits"] = payload.Traits
	} else {
		properties["traits"] = map[string]interface{}{}
	}
	if payload.Meta != nil {
		properties["meta"] = payload.Meta
	} else {
		properties["meta"] = map[string]interface{}{}
	}
	if params.Config != nil {
		properties["config"] = params.Config
	} else {
		properties["config"] = map[string]interface{}{}
	}
	params.Properties = properties
	params.Data = nil
}

// TrackEventHandler handles analytics event ingestion from client-side tracking
func TrackEventHandler(ctx *cartridge.Context) error {
	ctx.Logger.Debug("Received track request",
		slog.String("method", ctx.Method()), slog.String("path", ctx.Path()))

	var params TrackEventParams
	if err := ctx.BodyParser(&params); err != nil {
		ctx.Logger.Debug("Failed to parse track request", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": errInvalidRequest,
		})
	}
	normalizeSDKEnvelope(&params)

	input := buildIngestInput(ctx.Ctx, &params)
	keys := tenants.NewKeyStore(ctx.DBManager.GetConnection())

	eventID, err := ingest.Ingest(ctx.DBManager, ctx.Logger, keys, input)
	if err != nil {
		return handleIngestError(ctx, err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"success": true,
		"eventId": eventID,
	})
}

// TrackEventBeaconHandler handles events sent via navigator.sendBeacon.
// Beacon requests arrive as text/plain and never see the response, so
// this always returns 202.
func TrackEventBeaconHandler(ctx *cartridge.Context) error {
	var params TrackEventParams
	if err := json.Unmarshal(ctx.Body(), &params); err != nil {
		ctx.Logger.Debug("Failed to parse beacon request", slog.Any("error", err))
		return ctx.SendStatus(http.StatusAccepted)
	}
	normalizeSDKEnvelope(&params)

	input := buildIngestInput(ctx.Ctx, &params)
	keys := tenants.NewKeyStore(ctx.DBManager.GetConnection())

	if _, err := ingest.Ingest(ctx.DBManager, ctx.Logger, keys, input); err != nil {
		ctx.Logger.Error("Failed to ingest beacon event",
			slog.Any("error", err),
			slog.String("event_name", params.Event))
	}

	return ctx.SendStatus(http.StatusAccepted)
}

// buildIngestInput assembles the pipeline input from the parsed body and
// transport-level data (client IP, user agent headers).
func buildIngestInput(c *fiber.Ctx, params *TrackEventParams) *ingest.Input {
	userAgent := params.UserAgent
	if header := c.Get("User-Agent"); header != "" {
		userAgent = header
	}
	if forwardedUA := c.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
		userAgent = forwardedUA
	}

	anonID := params.AnonID
	if anonID == "" {
		anonID = params.AnonymousID
	}

	return &ingest.Input{
		EventName:    params.Event,
		EventType:    params.Type,
		WriteKey:     params.WriteKey,
		SessionID:    params.SessionID,
		UserID:       params.UserID,
		AnonID:       anonID,
		Timestamp:    params.Timestamp.Time,
		URL:          params.URL,
		Path:         params.Path,
		Hostname:     params.Hostname,
		Referrer:     params.Referrer,
		UserAgent:    userAgent,
		Language:     params.Language,
		ScreenSize:   params.ScreenSize,
		ViewportSize: params.ViewportSize,
		Geo:          params.Geo,
		Properties:   params.Properties,
		Payload:      params.Payload,
		Meta:         params.Meta,
		Connection:   params.Connection,
		Duration:     params.Duration,
		ScrollDepth:  params.ScrollDepth,
		ClientIP:     getClientIP(c),
	}
}

// handleIngestError maps pipeline failures onto the response taxonomy:
// 400 for validation, 401 for an unresolvable write key, 500 otherwise.
func handleIngestError(ctx *cartridge.Context, err error) error {
	var validationErr *ingest.ValidationError
	if errors.As(err, &validationErr) {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": validationErr.Message,
		})
	}

	var invalidKeyErr *tenants.InvalidKeyError
	if errors.As(err, &invalidKeyErr) {
		return ctx.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"error": errInvalidWriteKey,
		})
	}

	ctx.Logger.Error("Failed to ingest event", slog.Any("error", err))
	if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "busy") {
		return ctx.Status(599).JSON(fiber.Map{}) // custom status code
	}

	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error":   "Failed to track event",
		"message": err.Error(),
	})
}
