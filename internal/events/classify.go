package events

import "strings"

// Event type markers sent by the tracking script and SDK.
const (
	EventTypePage        = "page"
	EventTypeTrack       = "track"
	EventTypeInteraction = "interaction"
	EventTypeEngagement  = "engagement"
)

// Event name aliases that always count as page views.
const (
	EventNamePageViewed = "Page Viewed"
	EventNamePageview   = "pageview"
	routeChangedMarker  = "Route Changed"
)

// IsPageView reports whether an (eventName, eventType) pair counts as a
// page view for session counters. SPA route changes are matched by
// substring because SDKs suffix them with the route name.
func IsPageView(eventName, eventType string) bool {
	return eventType == EventTypePage ||
		eventName == EventNamePageViewed ||
		eventName == EventNamePageview ||
		strings.Contains(eventName, routeChangedMarker)
}

// IsInteraction reports whether an event type counts as an interaction
// for session counters.
func IsInteraction(eventType string) bool {
	switch eventType {
	case EventTypeInteraction, EventTypeTrack, EventTypeEngagement:
		return true
	}
	return false
}
