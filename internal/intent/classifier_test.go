package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridedesk/internal/chatmodel"
)

func TestClassifyEmptyInput(t *testing.T) {
	c := NewDefaultClassifier()

	for _, text := range []string{"", "   ", "\t\n", "!!!???"} {
		result := c.Classify(text)
		assert.Equal(t, chatmodel.IntentUnknown, result.Intent)
		assert.Equal(t, 0.0, result.Confidence, "empty/disabled input must return confidence exactly 0")
	}
}

func TestClassifyKnownIntents(t *testing.T) {
	c := NewDefaultClassifier()

	cases := []struct {
		text string
		want chatmodel.Intent
	}{
		{"where is my ride", chatmodel.IntentWhereIsRide},
		{"Where is my vehicle?", chatmodel.IntentWhereIsRide},
		{"my ride is late", chatmodel.IntentRideLate},
		{"cannot reach my driver", chatmodel.IntentCannotReachDriver},
		{"the driver is not answering", chatmodel.IntentCannotReachDriver},
		{"cancel my ride", chatmodel.IntentCancelBooking},
		{"I was charged twice", chatmodel.IntentPaymentQuestion},
		{"i feel unsafe", chatmodel.IntentSafetyConcern},
		{"call my driver", chatmodel.IntentCallDriver},
		{"send a message to the driver", chatmodel.IntentMessageDriver},
		{"talk to human agent", chatmodel.IntentHumanAgent},
	}

	for _, tc := range cases {
		result := c.Classify(tc.text)
		assert.Equal(t, tc.want, result.Intent, "text: %q", tc.text)
		assert.GreaterOrEqual(t, result.Confidence, 0.0)
		assert.LessOrEqual(t, result.Confidence, 1.0)
	}
}

func TestClassifyGibberishReturnsUnknown(t *testing.T) {
	c := NewDefaultClassifier()

	result := c.Classify("zxcvb qwerty plonk")
	assert.Equal(t, chatmodel.IntentUnknown, result.Intent)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestConfidenceOrdering(t *testing.T) {
	c := NewDefaultClassifier()

	// A clear, near-verbatim match must score materially higher than text
	// that brushes several phrase sets at once.
	clear := c.Classify("where is my vehicle")
	muddy := c.Classify("driver ride my the")

	require.Equal(t, chatmodel.IntentWhereIsRide, clear.Intent)
	assert.Greater(t, clear.Confidence, muddy.Confidence)
	assert.GreaterOrEqual(t, clear.Confidence, 0.5)
}

func TestConfidenceAlwaysInRange(t *testing.T) {
	c := NewDefaultClassifier()

	inputs := []string{
		"where is my ride", "late late late", "cancel", "driver", "help",
		"payment", "unsafe driver late cancel", "a", "the the the",
		"call message cancel where late",
	}
	for _, text := range inputs {
		result := c.Classify(text)
		assert.GreaterOrEqual(t, result.Confidence, 0.0, "text: %q", text)
		assert.LessOrEqual(t, result.Confidence, 1.0, "text: %q", text)
	}
}

func TestEntityExtraction(t *testing.T) {
	c := NewDefaultClassifier()

	result := c.Classify("my ride is late by 20 minutes, hurry")
	assert.Equal(t, chatmodel.IntentRideLate, result.Intent)
	assert.Contains(t, result.Entities.Minutes, 20)
	assert.True(t, result.Entities.Urgent)
}

func TestQuickActionMapping(t *testing.T) {
	c := NewDefaultClassifier()

	result := c.Classify("cancel my ride")
	assert.Equal(t, chatmodel.ActionCancelBooking, result.QuickAction)
}

func TestCustomPhraseSets(t *testing.T) {
	c := NewClassifier(map[chatmodel.Intent][]string{
		chatmodel.IntentPaymentQuestion: {"moneybags question"},
	})

	result := c.Classify("moneybags question")
	assert.Equal(t, chatmodel.IntentPaymentQuestion, result.Intent)
	assert.Equal(t, 0.95, result.Confidence)

	// Default phrases are not present in the substituted table.
	result = c.Classify("where is my ride")
	assert.Equal(t, chatmodel.IntentUnknown, result.Intent)
}
