package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/edgewall/decoder-adapter/internal/decoder"
	"github.com/edgewall/decoder-adapter/internal/infrastructure/config"
	"github.com/edgewall/decoder-adapter/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown. It sits inside the runtime's
// overall teardown deadline.
const gracefulShutdownTimeout = 5 * time.Second

// tokenCleanupInterval is how often expired token sessions are swept.
const tokenCleanupInterval = time.Minute

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  *config.Config
	Logger  *logging.Logger
	Session *decoder.Session
	Version string
}

// Server is the HTTP API server of the decoder adapter.
//
// It manages the HTTP listener, routes, middleware, and the bearer
// token table. The server is created with New() and started with Start().
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	session *decoder.Session
	version string

	tokens *tokenStore
	server *http.Server
	cancel context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, session)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("device session is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		session: deps.Session,
		version: deps.Version,
		tokens:  newTokenStore(deps.Config.Auth.Secret, deps.Config.Auth.GetTokenTTL()),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the token cleanup loop, binds the
// listener, and serves in a background goroutine. The bind happens
// synchronously so a port conflict surfaces to the caller instead of a
// process that runs with no HTTP surface. The server can be stopped
// with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the listener cannot bind (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	router := s.buildRouter()

	addr := fmt.Sprintf("%s:%d", s.cfg.HTTP.Host, s.cfg.HTTP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("binding API listener on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go s.cleanTokensLoop(srvCtx)

	go func() {
		err := s.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", addr)
	return nil
}

// Close gracefully shuts down the API server.
//
// It stops accepting new connections immediately, then waits up to the
// shutdown timeout for in-flight requests to complete.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// cleanTokensLoop sweeps expired token sessions until the context is cancelled.
func (s *Server) cleanTokensLoop(ctx context.Context) {
	ticker := time.NewTicker(tokenCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tokens.cleanExpired()
		}
	}
}
