package sessions_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Datafloww/server/internal/pkg/useragent"
	"github.com/Datafloww/server/internal/sessions"
	"github.com/Datafloww/server/internal/testsupport"
)

func pageViewTouch(sessionID string) *sessions.TouchInput {
	return &sessions.TouchInput{
		SessionID: sessionID,
		TenantID:  "tenant-1",
		AnonID:    "anon-1",
		EventName: "Page Viewed",
		EventType: "page",
		Path:      "/home",
		Referrer:  "https://google.com",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		DeviceInfo: useragent.DeviceInfo{
			Browser:    "Chrome",
			OS:         "Windows",
			DeviceType: "Desktop",
		},
	}
}

func TestTouchCreatesSessionOnFirstEvent(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	require.NoError(t, sessions.Touch(db, logger, pageViewTouch("s-create")))

	session, err := sessions.FindByID(db, "s-create")
	require.NoError(t, err)

	assert.Equal(t, "tenant-1", session.TenantID)
	assert.Equal(t, "anon-1", session.AnonID)
	assert.Empty(t, session.UserID)
	assert.Equal(t, 1, session.PageViews)
	assert.Equal(t, 0, session.Interactions)
	assert.Equal(t, 0, session.Duration)
	assert.Equal(t, "/home", session.EntryPage)
	assert.Equal(t, "/home", session.ExitPage)
	assert.Equal(t, "https://google.com", session.Referrer)
	assert.True(t, session.Active)
	assert.False(t, session.FirstSeen.IsZero())
	assert.WithinDuration(t, session.FirstSeen, session.LastSeen, time.Second)
}

func TestTouchSeedsCountersFromEventClass(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	interaction := pageViewTouch("s-interaction")
	interaction.EventName = "Button Clicked"
	interaction.EventType = "track"
	require.NoError(t, sessions.Touch(db, logger, interaction))

	session, err := sessions.FindByID(db, "s-interaction")
	require.NoError(t, err)
	assert.Equal(t, 0, session.PageViews)
	assert.Equal(t, 1, session.Interactions)
}

func TestTouchUpdatesExistingSession(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	require.NoError(t, sessions.Touch(db, logger, pageViewTouch("s-update")))

	second := pageViewTouch("s-update")
	second.EventName = "Form Submitted"
	second.EventType = "track"
	second.Path = "/signup"
	require.NoError(t, sessions.Touch(db, logger, second))

	session, err := sessions.FindByID(db, "s-update")
	require.NoError(t, err)
	assert.Equal(t, 1, session.PageViews)
	assert.Equal(t, 1, session.Interactions)
	assert.Equal(t, "/home", session.EntryPage)
	assert.Equal(t, "/signup", session.ExitPage)
	assert.True(t, session.Active)
	assert.GreaterOrEqual(t, session.Duration, 0)
}

func TestCountersNeverDecrease(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	prevPageViews := 0
	prevInteractions := 0

	for i := 0; i < 5; i++ {
		input := pageViewTouch("s-monotonic")
		if i%2 == 1 {
			input.EventName = "Link Clicked"
			input.EventType = "interaction"
		}
		require.NoError(t, sessions.Touch(db, logger, input))

		session, err := sessions.FindByID(db, "s-monotonic")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, session.PageViews, prevPageViews)
		assert.GreaterOrEqual(t, session.Interactions, prevInteractions)
		prevPageViews = session.PageViews
		prevInteractions = session.Interactions
	}

	session, err := sessions.FindByID(db, "s-monotonic")
	require.NoError(t, err)
	assert.Equal(t, 3, session.PageViews)
	assert.Equal(t, 2, session.Interactions)
}

func TestDurationRecomputedFromFirstSeen(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	require.NoError(t, sessions.Touch(db, logger, pageViewTouch("s-duration")))

	// Backdate the session start so the next touch observes elapsed time
	backdated := time.Now().UTC().Add(-120 * time.Second)
	require.NoError(t, db.Model(&sessions.Session{}).
		Where("id = ?", "s-duration").
		Update("first_seen", backdated).Error)

	require.NoError(t, sessions.Touch(db, logger, pageViewTouch("s-duration")))

	session, err := sessions.FindByID(db, "s-duration")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, session.Duration, 120)
	assert.Less(t, session.Duration, 130)
}

func TestExitPageKeptWhenPathMissing(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	require.NoError(t, sessions.Touch(db, logger, pageViewTouch("s-exit")))

	pathless := pageViewTouch("s-exit")
	pathless.EventName = "Video Played"
	pathless.EventType = "track"
	pathless.Path = ""
	require.NoError(t, sessions.Touch(db, logger, pathless))

	session, err := sessions.FindByID(db, "s-exit")
	require.NoError(t, err)
	assert.Equal(t, "/home", session.ExitPage)
}

func TestUserPromotionFromAnonymous(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	require.NoError(t, sessions.Touch(db, logger, pageViewTouch("s-promote")))

	identified := pageViewTouch("s-promote")
	identified.UserID = "user-42"
	require.NoError(t, sessions.Touch(db, logger, identified))

	session, err := sessions.FindByID(db, "s-promote")
	require.NoError(t, err)
	assert.Equal(t, "user-42", session.UserID)

	// A later event with a different user must not overwrite the binding
	conflicting := pageViewTouch("s-promote")
	conflicting.UserID = "user-99"
	require.NoError(t, sessions.Touch(db, logger, conflicting))

	session, err = sessions.FindByID(db, "s-promote")
	require.NoError(t, err)
	assert.Equal(t, "user-42", session.UserID)
}

func TestTouchRejectsEmptySessionID(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	err := sessions.Touch(db, logger, &sessions.TouchInput{
		TenantID:  "tenant-1",
		EventName: "Page Viewed",
		EventType: "page",
	})
	require.Error(t, err)
}

func TestTouchRetriesAsUpdateAfterLosingCreateRace(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	// A rival request creates the session in the window between Touch's
	// not-found lookup and its insert. The query callback fires right
	// after that lookup and commits the rival row in autocommit, so the
	// insert is guaranteed to hit the primary-key conflict.
	firstSeen := time.Now().UTC().Add(-time.Minute)
	rivalInserted := false
	err := db.Callback().Query().After("gorm:query").Register("rival_session_insert", func(tx *gorm.DB) {
		if rivalInserted || tx.Statement.Table != "sessions" || !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			return
		}
		rivalInserted = true
		tx.Session(&gorm.Session{NewDB: true}).Exec(
			`INSERT INTO sessions
			   (id, tenant_id, user_id, anon_id, first_seen, last_seen, duration,
			    page_views, interactions, referrer, entry_page, exit_page,
			    user_agent, device_info, active)
			 VALUES (?, ?, '', 'anon-rival', ?, ?, 0, 1, 0, '', '/entry', '/entry', '', '{}', 1)`,
			"s-race", "tenant-1", firstSeen, firstSeen)
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Callback().Query().Remove("rival_session_insert") })

	require.NoError(t, sessions.Touch(db, logger, pageViewTouch("s-race")))
	require.True(t, rivalInserted)

	// Exactly one row survives, with the losing touch folded in as an update
	var count int64
	require.NoError(t, db.Model(&sessions.Session{}).
		Where("id = ?", "s-race").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	session, err := sessions.FindByID(db, "s-race")
	require.NoError(t, err)
	assert.Equal(t, 2, session.PageViews)
	assert.Equal(t, "/entry", session.EntryPage)
	assert.Equal(t, "/home", session.ExitPage)
	assert.GreaterOrEqual(t, session.Duration, 60)
	assert.True(t, session.Active)
}

func TestDeactivateIdleSessions(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	require.NoError(t, sessions.Touch(db, logger, pageViewTouch("s-idle")))
	require.NoError(t, sessions.Touch(db, logger, pageViewTouch("s-fresh")))

	// Backdate the idle session past the timeout
	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&sessions.Session{}).
		Where("id = ?", "s-idle").
		Update("last_seen", stale).Error)

	deactivated, err := sessions.DeactivateIdleSessions(db, logger, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deactivated)

	idle, err := sessions.FindByID(db, "s-idle")
	require.NoError(t, err)
	assert.False(t, idle.Active)

	fresh, err := sessions.FindByID(db, "s-fresh")
	require.NoError(t, err)
	assert.True(t, fresh.Active)

	// A new event on a deactivated session reactivates it
	require.NoError(t, sessions.Touch(db, logger, pageViewTouch("s-idle")))
	idle, err = sessions.FindByID(db, "s-idle")
	require.NoError(t, err)
	assert.True(t, idle.Active)
}
