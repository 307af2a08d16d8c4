package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Datafloww/server/internal/events"
)

func TestIsPageView(t *testing.T) {
	tests := []struct {
		name      string
		eventName string
		eventType string
		want      bool
	}{
		{"page type marker", "anything", "page", true},
		{"pageview alias regardless of type", "pageview", "anything", true},
		{"Page Viewed alias", "Page Viewed", "track", true},
		{"route change substring", "App Route Changed /checkout", "custom", true},
		{"custom track event is not a page view", "Checkout Completed", "track", false},
		{"empty pair", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, events.IsPageView(tt.eventName, tt.eventType))
		})
	}
}

func TestIsInteraction(t *testing.T) {
	assert.True(t, events.IsInteraction("track"))
	assert.True(t, events.IsInteraction("interaction"))
	assert.True(t, events.IsInteraction("engagement"))
	assert.False(t, events.IsInteraction("page"))
	assert.False(t, events.IsInteraction(""))
	assert.False(t, events.IsInteraction("identify"))
}
