package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridedesk/internal/api/auth"
	"github.com/ridedesk/internal/chat"
	"github.com/ridedesk/internal/chatmodel"
	"github.com/ridedesk/internal/escalation"
	"github.com/ridedesk/internal/flow"
	"github.com/ridedesk/internal/intent"
	"github.com/ridedesk/internal/safety"
	"github.com/ridedesk/internal/store"
	"github.com/ridedesk/internal/tripdata"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	conversations := store.NewMemoryConversationStore()
	escalations := store.NewMemoryEscalationStore()
	manager := escalation.NewManager(conversations, escalations)
	t.Cleanup(manager.Close)
	service := chat.NewService(
		conversations,
		manager,
		intent.NewDefaultClassifier(),
		safety.NewDefaultDetector(),
		flow.NewDefaultEngine(),
		tripdata.NewMockProvider(),
		chat.DefaultOptions(),
	)
	tokens := auth.NewTokenService("test-secret", time.Hour)
	return NewServer(0, service, tokens, 100, 200)
}

func doJSON(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoHeaderContentType, "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func startConversationForTest(t *testing.T, s *Server) string {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/v1/conversations",
		`{"booking_id":"bk-1","user_id":"u1"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Conversation chatmodel.Conversation `json:"conversation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Conversation.ID)
	return resp.Conversation.ID
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConversationLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	convID := startConversationForTest(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/conversations/"+convID+"/messages",
		`{"text":"where is my ride?"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var reply chat.TurnReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, chatmodel.IntentWhereIsRide, reply.Intent)
	assert.False(t, reply.Escalated)
	assert.NotEmpty(t, reply.Actions)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/conversations/"+convID+"/messages", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []chatmodel.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	assert.Len(t, msgs, 3, "greeting, user turn, bot reply")

	rec = doJSON(t, s, http.MethodPost, "/api/v1/conversations/"+convID+"/close", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Messaging a closed conversation conflicts.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/conversations/"+convID+"/messages",
		`{"text":"hello"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/conversations", `{"booking_id":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	convID := startConversationForTest(t, s)
	rec = doJSON(t, s, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", `{"text":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownConversationMapsToNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/conversations/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/conversations/nope/messages", `{"text":"hi"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTicketEndpointsRequireAgentToken(t *testing.T) {
	s := newTestServer(t)
	convID := startConversationForTest(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/conversations/"+convID+"/escalate",
		`{"reason":"needs a human"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var escalated escalateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &escalated))
	require.NotNil(t, escalated.Ticket)
	ticket := *escalated.Ticket
	require.NotEmpty(t, ticket.ID)

	// No token.
	rec = doJSON(t, s, http.MethodGet, "/api/v1/tickets/"+ticket.ID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Garbage token.
	rec = doJSON(t, s, http.MethodGet, "/api/v1/tickets/"+ticket.ID, "", map[string]string{
		"Authorization": "Bearer not-a-jwt",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Issued token works.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/auth/token", `{"agent_id":"agent-7"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var issued auth.IssuedToken
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))

	authHeader := map[string]string{"Authorization": "Bearer " + issued.AccessToken}
	rec = doJSON(t, s, http.MethodGet, "/api/v1/tickets/"+ticket.ID, "", authHeader)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPatch, "/api/v1/tickets/"+ticket.ID,
		`{"status":"in_progress"}`, authHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated chatmodel.SupportTicket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, chatmodel.TicketInProgress, updated.Status)
	assert.Equal(t, "agent-7", updated.AssignedAgentID, "agent id taken from the token")

	// Backward transition conflicts.
	rec = doJSON(t, s, http.MethodPatch, "/api/v1/tickets/"+ticket.ID,
		`{"status":"open"}`, authHeader)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEscalationKindParameter(t *testing.T) {
	s := newTestServer(t)
	convID := startConversationForTest(t, s)

	// Driver handoffs record an escalation but open no ticket.
	rec := doJSON(t, s, http.MethodPost, "/api/v1/conversations/"+convID+"/escalate",
		`{"kind":"driver","reason":"driver should call back"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp escalateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Escalation)
	assert.Equal(t, chatmodel.EscalateDriver, resp.Escalation.Kind)
	assert.Nil(t, resp.Ticket)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/conversations/"+convID+"/escalate",
		`{"kind":"bogus"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/conversations/"+convID+"/escalate",
		`{"kind":"safety","reason":"rider reported a threat"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Ticket)
	assert.Equal(t, chatmodel.PriorityCritical, resp.Ticket.Priority)
}

func TestPerUserRateLimit(t *testing.T) {
	conversations := store.NewMemoryConversationStore()
	escalations := store.NewMemoryEscalationStore()
	manager := escalation.NewManager(conversations, escalations)
	t.Cleanup(manager.Close)
	service := chat.NewService(
		conversations,
		manager,
		intent.NewDefaultClassifier(),
		safety.NewDefaultDetector(),
		flow.NewDefaultEngine(),
		tripdata.NewMockProvider(),
		chat.DefaultOptions(),
	)
	srv := NewServer(0, service, auth.NewTokenService("test-secret", time.Hour), 1, 2)

	headers := map[string]string{"X-User-ID": "u1"}
	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/conversations",
			`{"booking_id":"bk-1","user_id":"u1"}`, headers)
		codes = append(codes, rec.Code)
	}
	assert.Contains(t, codes, http.StatusTooManyRequests)

	// A different user is unaffected.
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/conversations",
		`{"booking_id":"bk-2","user_id":"u2"}`, map[string]string{"X-User-ID": "u2"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}
