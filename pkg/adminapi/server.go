package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ziyouwa/vnts/internal/group"
	"github.com/ziyouwa/vnts/internal/logger"
	"github.com/ziyouwa/vnts/pkg/adminapi/handlers"
)

const (
	rateLimitWindow = 60 * time.Second
	rateLimitMax    = 3
)

// TokenStore issues and validates admin session tokens; satisfied by
// *session.Cache.
type TokenStore interface {
	IssueAuthToken(token string)
	ValidAuthToken(token string) bool
}

// Config configures the admin HTTP server.
type Config struct {
	Port     uint16
	Username string
	Password string
}

// Server is the admin HTTP API's listener, mirroring the teacher's
// Start/Stop lifecycle.
type Server struct {
	httpServer   *http.Server
	port         uint16
	shutdownOnce sync.Once
}

// NewServer hashes the CLI-supplied admin password once (OPEN QUESTIONS,
// DECISIONS: admin credential storage) and builds the router over tokens
// and groups.
func NewServer(cfg Config, tokens TokenStore, groups *group.Registry) (*Server, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing admin password: %w", err)
	}

	limiter := newLoginRateLimit(rateLimitWindow, rateLimitMax)
	mint := func() string { return strings.ReplaceAll(uuid.New().String(), "-", "") }

	authHandler := handlers.NewAuthHandler(cfg.Username, hash, tokens, limiter, mint)
	groupHandler := handlers.NewGroupHandler(groups)
	router := NewRouter(authHandler, groupHandler, tokens)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		port: cfg.Port,
	}, nil
}

// Start serves the admin API until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("admin api listening", "port", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin api server failed: %w", err)
	}
}

// Stop gracefully shuts down the admin API server. Safe to call multiple
// times.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.httpServer.Shutdown(ctx)
	})
	return err
}
