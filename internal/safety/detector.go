// Package safety implements the always-on keyword scan that can preempt
// normal intent routing, plus the rolling-window risk pattern analysis used
// as a recurring-concern signal.
package safety

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ridedesk/internal/chatmodel"
)

// DefaultLookbackWindow is the rolling window used for risk pattern analysis.
const DefaultLookbackWindow = 24 * time.Hour

// RiskLevel is the coarse output of pattern analysis over recent events.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Detector scans user turns for safety-relevant language. The keyword table
// is immutable after construction; the event log is guarded by a mutex so
// scans from concurrent conversations are safe.
type Detector struct {
	keywords map[string]chatmodel.Severity

	mu     sync.Mutex
	events []*chatmodel.SafetyEvent
	now    func() time.Time
}

// NewDetector builds a detector from a keyword -> severity table.
func NewDetector(keywords map[string]chatmodel.Severity) *Detector {
	table := make(map[string]chatmodel.Severity, len(keywords))
	for k, v := range keywords {
		table[strings.ToLower(k)] = v
	}
	return &Detector{keywords: table, now: time.Now}
}

// NewDefaultDetector builds a detector with the built-in keyword table.
func NewDefaultDetector() *Detector {
	return NewDetector(DefaultKeywordTable())
}

// DefaultKeywordTable is the static keyword -> severity mapping.
func DefaultKeywordTable() map[string]chatmodel.Severity {
	return map[string]chatmodel.Severity{
		// Critical: emergency and weapon-adjacent terms.
		"emergency": chatmodel.SeverityCritical,
		"danger":    chatmodel.SeverityCritical,
		"dangerous": chatmodel.SeverityCritical,
		"weapon":    chatmodel.SeverityCritical,
		"gun":       chatmodel.SeverityCritical,
		"knife":     chatmodel.SeverityCritical,
		"attack":    chatmodel.SeverityCritical,
		"attacked":  chatmodel.SeverityCritical,
		"kidnap":    chatmodel.SeverityCritical,
		"assault":   chatmodel.SeverityCritical,
		"police":    chatmodel.SeverityCritical,

		// High: unsafe, harassment and threat terms.
		"unsafe":     chatmodel.SeverityHigh,
		"scared":     chatmodel.SeverityHigh,
		"afraid":     chatmodel.SeverityHigh,
		"threat":     chatmodel.SeverityHigh,
		"threatened": chatmodel.SeverityHigh,
		"harass":     chatmodel.SeverityHigh,
		"harassment": chatmodel.SeverityHigh,
		"harassing":  chatmodel.SeverityHigh,
		"drunk":      chatmodel.SeverityHigh,
		"following":  chatmodel.SeverityHigh,

		// Medium: worry and suspicion terms.
		"worried":       chatmodel.SeverityMedium,
		"suspicious":    chatmodel.SeverityMedium,
		"uncomfortable": chatmodel.SeverityMedium,
		"strange":       chatmodel.SeverityMedium,
		"weird":         chatmodel.SeverityMedium,

		// Low: general-concern terms, logged only.
		"concern":   chatmodel.SeverityLow,
		"concerned": chatmodel.SeverityLow,
		"odd":       chatmodel.SeverityLow,
	}
}

// Scan checks a user turn for keyword matches. It returns nil when nothing
// matches. The event severity is the maximum across all matched keywords,
// never the first match.
func (d *Detector) Scan(text, conversationID, userID, driverID string) *chatmodel.SafetyEvent {
	tokens := strings.Fields(strings.ToLower(stripPunct(text)))
	if len(tokens) == 0 {
		return nil
	}

	var matched []string
	maxSeverity := chatmodel.Severity("")
	for _, token := range tokens {
		severity, ok := d.keywords[token]
		if !ok {
			continue
		}
		matched = append(matched, token)
		if maxSeverity == "" || severity.Rank() > maxSeverity.Rank() {
			maxSeverity = severity
		}
	}
	if len(matched) == 0 {
		return nil
	}

	event := &chatmodel.SafetyEvent{
		ID:              uuid.NewString(),
		ConversationID:  conversationID,
		UserID:          userID,
		DriverID:        driverID,
		Severity:        maxSeverity,
		MatchedKeywords: matched,
		Timestamp:       d.now(),
		Status:          chatmodel.SafetyDetected,
	}

	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()

	log.Warn().
		Str("conversation_id", conversationID).
		Str("user_id", userID).
		Str("severity", string(event.Severity)).
		Strs("keywords", matched).
		Msg("safety keywords detected")

	return event
}

// MarkEscalated transitions an event to escalated once handed off.
func (d *Detector) MarkEscalated(eventID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.events {
		if e.ID == eventID {
			e.Status = chatmodel.SafetyEscalated
			return
		}
	}
}

// RecentEvents returns the user's safety events inside the lookback window,
// newest last.
func (d *Detector) RecentEvents(userID string, window time.Duration) []*chatmodel.SafetyEvent {
	cutoff := d.now().Add(-window)

	d.mu.Lock()
	defer d.mu.Unlock()

	var recent []*chatmodel.SafetyEvent
	for _, e := range d.events {
		if e.UserID == userID && e.Timestamp.After(cutoff) {
			recent = append(recent, e)
		}
	}
	return recent
}

// RiskPattern aggregates recent event counts by severity into a coarse risk
// level. This feeds the recurring-concern signal only; it never triggers
// escalation by itself.
func (d *Detector) RiskPattern(userID string) RiskLevel {
	events := d.RecentEvents(userID, DefaultLookbackWindow)
	if len(events) == 0 {
		return RiskNone
	}

	counts := map[chatmodel.Severity]int{}
	for _, e := range events {
		counts[e.Severity]++
	}

	switch {
	case counts[chatmodel.SeverityCritical] > 0 || counts[chatmodel.SeverityHigh] >= 2:
		return RiskHigh
	case counts[chatmodel.SeverityHigh] == 1 || counts[chatmodel.SeverityMedium] >= 2:
		return RiskMedium
	default:
		return RiskLow
	}
}

func stripPunct(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ', r == '\t', r == '\n':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}
