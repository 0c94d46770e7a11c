package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridedesk/internal/chatmodel"
)

func TestScanNoMatch(t *testing.T) {
	d := NewDefaultDetector()

	assert.Nil(t, d.Scan("where is my ride", "c1", "u1", "d1"))
	assert.Nil(t, d.Scan("", "c1", "u1", ""))
}

func TestScanEmergencyIsCritical(t *testing.T) {
	d := NewDefaultDetector()

	event := d.Scan("help, this is an emergency", "c1", "u1", "d1")
	require.NotNil(t, event)
	assert.Equal(t, chatmodel.SeverityCritical, event.Severity)
	assert.Contains(t, event.MatchedKeywords, "emergency")
	assert.Equal(t, chatmodel.SafetyDetected, event.Status)
	assert.True(t, event.RequiresEscalation())
}

func TestScanMaximumSeverityDominates(t *testing.T) {
	d := NewDefaultDetector()

	// "worried" (medium) appears before "weapon" (critical); the event must
	// carry the maximum severity, not the first match.
	event := d.Scan("i am worried the driver has a weapon", "c1", "u1", "")
	require.NotNil(t, event)
	assert.Equal(t, chatmodel.SeverityCritical, event.Severity)
	assert.ElementsMatch(t, []string{"worried", "weapon"}, event.MatchedKeywords)
}

func TestLowSeverityNeverEscalates(t *testing.T) {
	d := NewDefaultDetector()

	event := d.Scan("just a small concern about the route", "c1", "u1", "")
	require.NotNil(t, event)
	assert.Equal(t, chatmodel.SeverityLow, event.Severity)
	assert.False(t, event.RequiresEscalation())
}

func TestMediumAndAboveEscalate(t *testing.T) {
	d := NewDefaultDetector()

	for _, text := range []string{
		"the driver seems suspicious",
		"i feel unsafe in this car",
		"this is dangerous",
	} {
		event := d.Scan(text, "c1", "u1", "")
		require.NotNil(t, event, "text: %q", text)
		assert.True(t, event.RequiresEscalation(), "text: %q", text)
	}
}

func TestRecentEventsWindow(t *testing.T) {
	d := NewDefaultDetector()
	base := time.Now()

	d.now = func() time.Time { return base.Add(-48 * time.Hour) }
	d.Scan("this is dangerous", "c1", "u1", "")

	d.now = func() time.Time { return base }
	d.Scan("i feel unsafe", "c2", "u1", "")
	d.Scan("i feel unsafe", "c3", "u2", "")

	recent := d.RecentEvents("u1", 24*time.Hour)
	require.Len(t, recent, 1)
	assert.Equal(t, "c2", recent[0].ConversationID)
}

func TestRiskPattern(t *testing.T) {
	d := NewDefaultDetector()

	assert.Equal(t, RiskNone, d.RiskPattern("u1"))

	d.Scan("something odd happened", "c1", "u1", "")
	assert.Equal(t, RiskLow, d.RiskPattern("u1"))

	d.Scan("i feel unsafe", "c2", "u1", "")
	assert.Equal(t, RiskMedium, d.RiskPattern("u1"))

	d.Scan("i am scared of the driver", "c3", "u1", "")
	assert.Equal(t, RiskHigh, d.RiskPattern("u1"))

	// A single critical event puts another user straight at high risk.
	d.Scan("emergency", "c4", "u2", "")
	assert.Equal(t, RiskHigh, d.RiskPattern("u2"))
}

func TestMarkEscalated(t *testing.T) {
	d := NewDefaultDetector()

	event := d.Scan("emergency", "c1", "u1", "")
	require.NotNil(t, event)

	d.MarkEscalated(event.ID)
	recent := d.RecentEvents("u1", time.Hour)
	require.Len(t, recent, 1)
	assert.Equal(t, chatmodel.SafetyEscalated, recent[0].Status)
}
