package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"wfscript/pkg/analysis"
	"wfscript/pkg/config"
	"wfscript/pkg/engine"
	"wfscript/pkg/logger"
	"wfscript/pkg/metrics"
	"wfscript/pkg/middleware"
	"wfscript/pkg/workflow"
)

// bodySlack covers the JSON envelope around the source text.
const bodySlack = 64 << 10

// Server exposes interpret and check over HTTP.
type Server struct {
	cfg       *config.Config
	log       *slog.Logger
	metrics   *metrics.Recorder
	blocklist *middleware.IPBlockList

	policies    map[string]*engine.Policy
	analyzers   map[string]*analysis.Analyzer
	defaultName string
}

// New resolves both policy presets with the configured limits and policy
// file. cfg.Policy selects the one used when a request names none.
func New(cfg *config.Config, rec *metrics.Recorder, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	if rec == nil {
		rec = metrics.NewRecorder()
	}
	blocklist, err := middleware.NewIPBlockList(cfg.BlockedIPs)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:       cfg,
		log:       log,
		metrics:   rec,
		blocklist: blocklist,
		policies:  map[string]*engine.Policy{},
		analyzers: map[string]*analysis.Analyzer{},
	}
	builders := workflow.Table().Names()
	for _, name := range []string{"sdk", "code"} {
		p, err := config.BuildPolicy(name, cfg.PolicyFile, cfg.MaxDepth, cfg.MaxSourceBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to build policy %s: %w", name, err)
		}
		s.policies[name] = p
		s.analyzers[name] = analysis.NewAnalyzer(p, builders)
	}
	def, err := engine.PolicyByName(cfg.Policy)
	if err != nil {
		return nil, err
	}
	s.defaultName = def.Name
	return s, nil
}

// Blocklist is the live IP block list used by the router.
func (s *Server) Blocklist() *middleware.IPBlockList {
	return s.blocklist
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(logger.Middleware)
	r.Use(s.metrics.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(s.blocklist.Middleware)
	r.Use(middleware.WAF(s.cfg.WAF))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	if s.cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, s.cfg.RateWindow))
	} else {
		s.log.Info("⚠️  Rate Limiting Disabled (WFSCRIPT_RATE_LIMIT=0)")
	}
	r.Use(middleware.Brotli(s.cfg.Brotli))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/interpret", s.handleInterpret)
		r.Post("/check", s.handleCheck)
		r.Get("/policies/{name}", s.handlePolicy)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Listen first so "address in use" is reported before we claim to be up.
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("🚀 wfscript ready", "addr", ln.Addr().String(), "policy", s.defaultName)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("⚠️  Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.log.Info("✅ Server stopped")
	return nil
}
