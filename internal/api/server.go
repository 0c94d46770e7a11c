// Package api exposes the chat pipeline over HTTP. Rider endpoints are
// rate-limited per user; ticket endpoints require an agent bearer token.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/ridedesk/internal/api/auth"
	"github.com/ridedesk/internal/chat"
)

// Server represents the API server.
type Server struct {
	echo    *echo.Echo
	port    int
	service *chat.Service
	tokens  *auth.TokenService
	limiter *userLimiter
}

// NewServer creates the API server around the chat service.
func NewServer(port int, service *chat.Service, tokens *auth.TokenService, perUserRPS float64, burst int) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:    e,
		port:    port,
		service: service,
		tokens:  tokens,
		limiter: newUserLimiter(perUserRPS, burst),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all API endpoints.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	v1 := s.echo.Group("/api/v1")

	// Rider-facing chat endpoints.
	rider := v1.Group("", s.limiter.Middleware)
	rider.POST("/conversations", s.startConversation)
	rider.GET("/conversations/:id", s.getConversation)
	rider.GET("/conversations/:id/messages", s.getMessages)
	rider.POST("/conversations/:id/messages", s.postMessage)
	rider.POST("/conversations/:id/cancel-booking", s.confirmCancel)
	rider.POST("/conversations/:id/escalate", s.escalateConversation)
	rider.POST("/conversations/:id/close", s.closeConversation)
	rider.GET("/users/:id/conversations", s.getUserConversations)
	rider.GET("/users/:id/tickets", s.getUserTickets)

	// Agent console endpoints behind JWT auth.
	v1.POST("/auth/token", s.issueAgentToken)
	agent := v1.Group("/tickets", s.agentAuth)
	agent.GET("/:id", s.getTicket)
	agent.PATCH("/:id", s.updateTicket)
}

// agentAuth validates the bearer token and stashes the claims on the context.
func (s *Server) agentAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := s.tokens.ValidateToken(header[len(prefix):])
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		c.Set("agent", claims)
		return next(c)
	}
}

// Start runs the server and blocks until interrupted, then shuts down
// gracefully.
func (s *Server) Start() error {
	go func() {
		addr := fmt.Sprintf(":%d", s.port)
		log.Info().Str("addr", addr).Msg("api server listening")
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
