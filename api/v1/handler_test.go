package v1_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Datafloww/server/internal/events"
	"github.com/Datafloww/server/internal/sessions"
	"github.com/Datafloww/server/internal/testsupport"
)

const chromeWindowsUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"

func trackRequest(t *testing.T, path string, body map[string]interface{}) *http.Request {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", chromeWindowsUA)
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestTrackEventEndpoint(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	_, writeKey := testsupport.CreateTestTenantWithKey(t, db, "track@example.com")

	req := trackRequest(t, "/analytics/track", map[string]interface{}{
		"event":     "Page Viewed",
		"type":      "page",
		"writeKey":  writeKey,
		"sessionId": "s-http",
		"anonId":    "anon-http",
		"url":       "https://example.com/pricing",
		"path":      "/pricing",
		"hostname":  "example.com",
	})

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.NotZero(t, body["eventId"])

	session, err := sessions.FindByID(db, "s-http")
	require.NoError(t, err)
	assert.Equal(t, 1, session.PageViews)
	assert.Equal(t, "/pricing", session.EntryPage)

	var event events.Event
	require.NoError(t, db.Where("session_id = ?", "s-http").First(&event).Error)
	assert.Equal(t, "Chrome", event.Browser)
}

func TestTrackEventHonorsClientTimestamp(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	_, writeKey := testsupport.CreateTestTenantWithKey(t, db, "clienttime@example.com")

	clientTime := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	req := trackRequest(t, "/analytics/track", map[string]interface{}{
		"event":     "Page Viewed",
		"type":      "page",
		"writeKey":  writeKey,
		"sessionId": "s-client-time",
		"path":      "/home",
		"timestamp": clientTime.Format(time.RFC3339),
	})

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var event events.Event
	require.NoError(t, db.Where("session_id = ?", "s-client-time").First(&event).Error)
	assert.WithinDuration(t, clientTime, event.CreatedAt, time.Second)

	// An unparseable timestamp falls back to the server clock
	req = trackRequest(t, "/analytics/track", map[string]interface{}{
		"event":     "Page Viewed",
		"type":      "page",
		"writeKey":  writeKey,
		"sessionId": "s-client-time",
		"path":      "/home",
		"timestamp": "three days ago",
	})
	resp, err = app.Test(req, 30000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, db.Where("session_id = ?", "s-client-time").
		Order("id DESC").First(&event).Error)
	assert.WithinDuration(t, time.Now().UTC(), event.CreatedAt, 5*time.Second)
}

func TestTrackEventRejectsInvalidWriteKey(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	req := trackRequest(t, "/analytics/track", map[string]interface{}{
		"event":    "Page Viewed",
		"type":     "page",
		"writeKey": "deadbeef-ffffffff",
	})

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "Invalid API key", body["error"])
}

func TestTrackEventRejectsIncompletePayload(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	_, writeKey := testsupport.CreateTestTenantWithKey(t, db, "incomplete@example.com")

	req := trackRequest(t, "/analytics/track", map[string]interface{}{
		"type":     "page",
		"writeKey": writeKey,
	})

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTrackEventRejectsMalformedBody(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	req := httptest.NewRequest(http.MethodPost, "/analytics/track", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTrackEventAcceptsSDKEnvelope(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	_, writeKey := testsupport.CreateTestTenantWithKey(t, db, "sdk@example.com")

	req := trackRequest(t, "/analytics/track", map[string]interface{}{
		"writeKey": writeKey,
		"data": map[string]interface{}{
			"payload": map[string]interface{}{
				"event":       "ignored",
				"type":        "identify",
				"sessionId":   "s-sdk",
				"userId":      "user-sdk",
				"anonymousId": "anon-sdk",
				"traits":      map[string]interface{}{"email": "user@example.com"},
			},
		},
	})

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var event events.Event
	require.NoError(t, db.Where("session_id = ?", "s-sdk").First(&event).Error)
	assert.Equal(t, "Identify", event.EventName)
	assert.Equal(t, "identify", event.EventType)
	assert.Equal(t, "user-sdk", event.UserID)

	var props map[string]interface{}
	require.NoError(t, json.Unmarshal(event.Properties, &props))
	traits, ok := props["traits"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "user@example.com", traits["email"])
}

func TestTrackEventBeaconAlwaysAccepts(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	_, writeKey := testsupport.CreateTestTenantWithKey(t, db, "beacon@example.com")

	req := trackRequest(t, "/analytics/track/beacon", map[string]interface{}{
		"event":     "Page Viewed",
		"type":      "page",
		"writeKey":  writeKey,
		"sessionId": "s-beacon",
		"path":      "/home",
	})
	// Beacons arrive as text/plain
	req.Header.Set("Content-Type", "text/plain")

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	_, err = sessions.FindByID(db, "s-beacon")
	require.NoError(t, err)

	// Even a failing payload gets a 202 back
	bad := trackRequest(t, "/analytics/track/beacon", map[string]interface{}{
		"event":    "Page Viewed",
		"type":     "page",
		"writeKey": "deadbeef-ffffffff",
	})
	resp, err = app.Test(bad, 30000)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	req := httptest.NewRequest(http.MethodGet, "/_health", nil)
	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["db_status"])

	uptime, ok := body["uptime_seconds"].(float64)
	require.True(t, ok, "uptime_seconds missing from health response")
	assert.GreaterOrEqual(t, uptime, 0.0)
}
