package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridedesk/internal/chatmodel"
	"github.com/ridedesk/internal/escalation"
)

type recordingSink struct {
	events []string
	err    error
}

func (s *recordingSink) Publish(ctx context.Context, eventType string, payload interface{}) error {
	s.events = append(s.events, eventType)
	return s.err
}

func TestEventHandlerFansOutToAllSinks(t *testing.T) {
	failing := &recordingSink{err: errors.New("broker down")}
	healthy := &recordingSink{}
	handler := EventHandler(failing, healthy)

	handler(context.Background(), escalation.Event{
		Type:    escalation.EventEscalationCreated,
		Request: &chatmodel.EscalationRequest{ID: "esc-1", Kind: chatmodel.EscalateSafety},
	})

	// A failing sink must not block the others.
	assert.Equal(t, []string{escalation.EventEscalationCreated}, failing.events)
	assert.Equal(t, []string{escalation.EventEscalationCreated}, healthy.events)
}

func TestWebhookSinkDeliversEvent(t *testing.T) {
	var gotEventType string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEventType = r.Header.Get("X-Event-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, "secret", 2*time.Second)
	err := sink.Publish(context.Background(), escalation.EventTicketCreated, map[string]interface{}{
		"event": escalation.EventTicketCreated,
	})
	require.NoError(t, err)
	assert.Equal(t, escalation.EventTicketCreated, gotEventType)
	assert.Equal(t, escalation.EventTicketCreated, gotBody["event"])
}

func TestWebhookSinkReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, "", 2*time.Second)
	err := sink.Publish(context.Background(), escalation.EventTicketUpdated, map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestLogSinkNeverFails(t *testing.T) {
	err := LogSink{}.Publish(context.Background(), escalation.EventTicketUpdated, map[string]interface{}{"x": 1})
	assert.NoError(t, err)
}
