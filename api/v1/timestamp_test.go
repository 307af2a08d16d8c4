package v1_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/Datafloww/server/api/v1"
)

func TestTimestampUnmarshal(t *testing.T) {
	reference := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"rfc3339", `"2026-03-14T09:26:53Z"`, reference},
		{"rfc3339 nano", `"2026-03-14T09:26:53.500000000Z"`, reference.Add(500 * time.Millisecond)},
		{"rfc3339 with offset", `"2026-03-14T10:26:53+01:00"`, reference},
		{"sql datetime", `"2026-03-14 09:26:53"`, reference},
		{"epoch seconds", `1773480413`, reference},
		{"epoch milliseconds", `1773480413500`, reference.Add(500 * time.Millisecond)},
		{"null", `null`, time.Time{}},
		{"empty string", `""`, time.Time{}},
		{"garbage string", `"three days ago"`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload struct {
				TS v1.Timestamp `json:"ts"`
			}
			require.NoError(t, json.Unmarshal([]byte(`{"ts": `+tt.raw+`}`), &payload))
			assert.True(t, payload.TS.Equal(tt.want),
				"decoded %v, want %v", payload.TS.Time, tt.want)
		})
	}
}

func TestTimestampUnmarshalMissingField(t *testing.T) {
	var payload struct {
		TS v1.Timestamp `json:"ts"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{}`), &payload))
	assert.True(t, payload.TS.IsZero())
}
