package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loqui-ai/loqui/internal/health"
	"github.com/loqui-ai/loqui/internal/observe"
	"github.com/loqui-ai/loqui/internal/quota"
	"github.com/loqui-ai/loqui/pkg/capture"
	"github.com/loqui-ai/loqui/pkg/live"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Config assembles the gateway server. Provider is required; everything
// else has working defaults.
type Config struct {
	// ListenAddr is the TCP address to serve on (e.g., ":8080").
	ListenAddr string

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string

	// Provider is the live-session backend shared by all clients.
	Provider live.Provider

	// Session is the per-session provider configuration.
	Session live.SessionConfig

	// InputRate and OutputRate are the provider-side sample rates.
	InputRate  int
	OutputRate int

	// MergeWindow, Delimiter and DisableFencing tune per-client transcript
	// reconciliation. Zero values mean the reconciler defaults.
	MergeWindow    time.Duration
	Delimiter      string
	DisableFencing bool

	// QuotaStore, when set, returns the quota backend for a subject and
	// enables demo-limit enforcement. QuotaGrace is the post-lockout grace
	// delay.
	QuotaStore func(subject string) quota.Store
	QuotaGrace time.Duration

	// Video, when set, overrides the client-fed frame source with a
	// server-side grabber. By default video_frame uploads feed the pipeline.
	Video        capture.Grabber
	VideoOptions []capture.VideoOption

	Logger  *slog.Logger
	Metrics *observe.Metrics

	// Checkers are evaluated by /readyz in addition to the built-ins.
	Checkers []health.Checker

	// OriginPatterns restricts WebSocket origins. Empty allows any origin;
	// deployments behind a fixed frontend should pin it.
	OriginPatterns []string
}

// Server is the HTTP front of the gateway: health and metrics endpoints
// plus the /v1/session WebSocket that carries the voice protocol.
type Server struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics
	quota   func(subject string) *quota.Tracker
	handler http.Handler
}

// New creates a Server from cfg.
func New(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
	if cfg.QuotaStore != nil {
		s.quota = func(subject string) *quota.Tracker {
			t := quota.NewTracker(cfg.QuotaStore(subject))
			t.OnLockout(func() {
				s.metrics.QuotaLockouts.Add(context.Background(), 1)
			})
			return t
		}
	}

	probes := health.New(cfg.Checkers...)

	// The WebSocket route bypasses the HTTP middleware: the connection is
	// hijacked, so response instrumentation does not apply.
	inner := http.NewServeMux()
	probes.Register(inner)
	inner.Handle("GET /metrics", promhttp.Handler())

	outer := http.NewServeMux()
	outer.HandleFunc("GET /v1/session", s.handleSession)
	outer.Handle("/", observe.Middleware(s.metrics)(inner))

	s.handler = outer
	return s
}

// Handler returns the root HTTP handler. Exposed for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.handler,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("gateway listening", "addr", s.cfg.ListenAddr, "tls", s.cfg.TLSCertFile != "")
		var err error
		if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
			err = srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("gateway: shutdown: %w", err)
	}
	return nil
}

// handleSession upgrades the connection and services it until disconnect.
// One voice session pipeline per connection.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.cfg.OriginPatterns) > 0 {
		opts.OriginPatterns = s.cfg.OriginPatterns
	} else {
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.log.Warn("websocket accept failed", "err", err)
		return
	}

	subject := r.URL.Query().Get("device")
	if subject == "" {
		subject = r.RemoteAddr
	}

	ctx := r.Context()
	s.metrics.ActiveClients.Add(ctx, 1)
	defer s.metrics.ActiveClients.Add(context.Background(), -1)

	s.log.Info("client connected", "subject", subject)
	c := s.newClient(conn, subject)
	c.run(ctx)
	s.log.Info("client disconnected", "subject", subject)

	_ = conn.Close(websocket.StatusNormalClosure, "")
}
