package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ridedesk/internal/api/auth"
	"github.com/ridedesk/internal/chatmodel"
)

type startConversationRequest struct {
	BookingID string `json:"booking_id"`
	UserID    string `json:"user_id"`
}

type startConversationResponse struct {
	Conversation *chatmodel.Conversation `json:"conversation"`
	Reply        interface{}             `json:"reply"`
}

type postMessageRequest struct {
	Text string `json:"text"`
}

type escalateRequest struct {
	Kind   chatmodel.EscalationKind `json:"kind"`
	Reason string                   `json:"reason"`
}

type escalateResponse struct {
	Escalation *chatmodel.EscalationRequest `json:"escalation"`
	Ticket     *chatmodel.SupportTicket     `json:"ticket,omitempty"`
}

type updateTicketRequest struct {
	Status     chatmodel.TicketStatus `json:"status"`
	Resolution string                 `json:"resolution"`
}

type tokenRequest struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
}

// toHTTPError maps domain errors onto status codes.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, chatmodel.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, chatmodel.ErrUpstreamUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, chatmodel.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) startConversation(c echo.Context) error {
	var req startConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.BookingID == "" || req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "booking_id and user_id are required")
	}

	conv, reply, err := s.service.Initiate(c.Request().Context(), req.BookingID, req.UserID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, startConversationResponse{Conversation: conv, Reply: reply})
}

func (s *Server) getConversation(c echo.Context) error {
	conv, err := s.service.Conversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) getMessages(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	msgs, err := s.service.Transcript(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Server) postMessage(c echo.Context) error {
	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	reply, err := s.service.ProcessTurn(c.Request().Context(), c.Param("id"), req.Text)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, reply)
}

func (s *Server) confirmCancel(c echo.Context) error {
	reply, err := s.service.CancelBooking(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, reply)
}

func (s *Server) escalateConversation(c echo.Context) error {
	var req escalateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	switch req.Kind {
	case "", chatmodel.EscalateDriver, chatmodel.EscalateSupport, chatmodel.EscalateSafety:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "kind must be driver, support or safety")
	}
	if req.Reason == "" {
		req.Reason = "user requested escalation"
	}

	escReq, ticket, err := s.service.EscalateManually(c.Request().Context(), c.Param("id"), req.Kind, req.Reason)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, escalateResponse{Escalation: escReq, Ticket: ticket})
}

func (s *Server) closeConversation(c echo.Context) error {
	if err := s.service.CloseConversation(c.Request().Context(), c.Param("id")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getUserConversations(c echo.Context) error {
	convs, err := s.service.UserHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, convs)
}

func (s *Server) getUserTickets(c echo.Context) error {
	tickets, err := s.service.TicketsByUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, tickets)
}

func (s *Server) issueAgentToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AgentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id is required")
	}
	if req.Role == "" {
		req.Role = "agent"
	}

	token, err := s.tokens.IssueToken(req.AgentID, req.Role)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, token)
}

func (s *Server) getTicket(c echo.Context) error {
	ticket, err := s.service.Ticket(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, ticket)
}

func (s *Server) updateTicket(c echo.Context) error {
	var req updateTicketRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}

	claims, _ := c.Get("agent").(*auth.AgentClaims)
	agentID := ""
	if claims != nil {
		agentID = claims.AgentID
	}

	ticket, err := s.service.UpdateTicket(c.Request().Context(), c.Param("id"), req.Status, agentID, req.Resolution)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, ticket)
}
