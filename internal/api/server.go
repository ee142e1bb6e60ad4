// Package api exposes the ledger over HTTP.
//
// Mutating routes require a signed request (see SignRequest). Read routes
// are public. The event stream is mounted at /events when a hub is given.
package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"agent-rep/internal/ledger"
	"agent-rep/internal/observability"
	"agent-rep/internal/reputation"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
)

// Options configures a Server.
type Options struct {
	Ledger   *ledger.Ledger        // required
	Verifier *Verifier             // defaults to NewVerifier(DefaultMaxSkew, 0, nil)
	Stream   http.Handler          // mounted at /events when set
	Archive  storage.EventArchive  // enables score history when set
	Trust    reputation.TrustPolicy // default policy for trust checks

	// AllowDeposits enables the development faucet route.
	AllowDeposits bool
	Logger        *log.Logger
}

// Server routes API requests to the ledger.
type Server struct {
	router        *gin.Engine
	ledger        *ledger.Ledger
	store         storage.Store
	verifier      *Verifier
	stream        http.Handler
	archive       storage.EventArchive
	trust         reputation.TrustPolicy
	allowDeposits bool
	logger        *log.Logger
	started       time.Time
}

// NewServer validates opts and builds the router.
func NewServer(opts Options) (*Server, error) {
	if opts.Ledger == nil {
		return nil, errors.New("api: ledger is required")
	}
	s := &Server{
		ledger:        opts.Ledger,
		store:         opts.Ledger.Store(),
		verifier:      opts.Verifier,
		stream:        opts.Stream,
		archive:       opts.Archive,
		trust:         opts.Trust,
		allowDeposits: opts.AllowDeposits,
		logger:        opts.Logger,
		started:       time.Now(),
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}
	if s.verifier == nil {
		v, err := NewVerifier(DefaultMaxSkew, 0, nil)
		if err != nil {
			return nil, err
		}
		s.verifier = v
	}
	if s.trust == (reputation.TrustPolicy{}) {
		s.trust = reputation.DefaultTrustPolicy()
	}
	if err := s.trust.Validate(); err != nil {
		return nil, err
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery(), s.observe())
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/metrics", gin.WrapH(observability.Handler()))
	if s.stream != nil {
		s.router.GET("/events", gin.WrapH(s.stream))
	}

	v1 := s.router.Group("/v1")
	{
		v1.GET("/agents", s.handleListAgents)
		v1.GET("/leaderboard", s.handleLeaderboard)
		v1.GET("/events", s.handleListEvents)
		v1.GET("/balances/:account", s.handleBalance)

		agent := v1.Group("/agents/:owner")
		agent.GET("", s.handleGetAgent)
		agent.GET("/address", s.handleAddress)
		agent.GET("/reputation", s.handleQueryReputation)
		agent.GET("/trust", s.handleCheckTrust)
		agent.GET("/actions", s.handleListActions)
		agent.GET("/actions/:index", s.handleGetAction)
		agent.GET("/history", s.handleScoreHistory)

		signed := v1.Group("", s.authenticate())
		{
			signed.POST("/agents", s.handleRegister)
			signed.POST("/agents/:owner/actions", s.handleLogAction)
			signed.POST("/agents/:owner/slash", s.handleSlash)
			signed.DELETE("/agents/:owner", s.handleDeregister)
			if s.allowDeposits {
				signed.POST("/balances/:account/deposit", s.handleDeposit)
			}
		}
	}
}

// Router returns the gin engine.
func (s *Server) Router() *gin.Engine { return s.router }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

const callerKey = "caller"

// authenticate verifies the request signature and stores the caller.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := s.verifier.Verify(c.Request)
		switch {
		case errors.Is(err, errReplayCacheFull):
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorBody{Error: err.Error(), Kind: "replay_cache_full"})
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: err.Error(), Kind: "unauthorized"})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerOf(c *gin.Context) solana.PublicKey {
	v, ok := c.Get(callerKey)
	if !ok {
		return solana.PublicKey{}
	}
	return v.(solana.PublicKey)
}

// observe records metrics per route template and logs server errors.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		observability.RecordHTTPRequest(c.Request.Method, route, code, time.Since(start).Seconds())
		if code >= http.StatusInternalServerError {
			s.logger.Printf("%s %s -> %d (%s): %v", c.Request.Method, c.Request.URL.Path, code, time.Since(start), c.Errors.String())
		}
	}
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Printf("API server listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
