package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gazewatch/backend/internal/camera"
	"github.com/gazewatch/backend/internal/config"
	"github.com/gazewatch/backend/internal/detect"
	"github.com/gazewatch/backend/internal/metrics"
	"github.com/gazewatch/backend/internal/session"
	"github.com/gazewatch/backend/internal/shutdown"
)

type Server struct {
	cfg          *config.Config
	registry     *session.Registry
	coord        *shutdown.Coordinator
	source       *camera.Source
	detector     detect.Detector
	metrics      *metrics.Metrics
	log          logrus.FieldLogger
	capabilities []string

	health         http.Handler
	upgrader       websocket.Upgrader
	allowAll       bool
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

// NewServer wires the connection handler. m may be nil.
func NewServer(cfg *config.Config, registry *session.Registry, coord *shutdown.Coordinator, source *camera.Source, detector detect.Detector, m *metrics.Metrics, log logrus.FieldLogger) *Server {
	s := &Server{
		cfg:            cfg,
		registry:       registry,
		coord:          coord,
		source:         source,
		detector:       detector,
		metrics:        m,
		log:            log,
		capabilities:   append([]string(nil), detect.Capabilities...),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			s.allowAll = true
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

// SetHealthHandler configures the handler behind /health. Must be called
// before SetupRoutes.
func (s *Server) SetHealthHandler(h http.Handler) {
	s.health = h
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/", s.handleRoot)

	if s.health != nil {
		mux.Handle("/health", s.health)
	}
	if s.metrics != nil && s.cfg.Metrics.Enabled {
		mux.Handle(s.cfg.Metrics.Path, s.metrics.Handler())
	}
}

// Handler returns the full route set wrapped in the security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

// handleRoot accepts WebSocket upgrades on "/" so that clients dialing the
// bare host:port keep working.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" && websocket.IsWebSocketUpgrade(r) {
		s.handleWS(w, r)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.coord.Triggered() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	info := &session.ConnInfo{
		ID:          uuid.NewString(),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
	}
	if err := s.registry.Add(info); err != nil {
		if errors.Is(err, session.ErrTooManyConnections) {
			s.metrics.ConnRejected()
			s.log.WithField("remote", r.RemoteAddr).Warn("connection limit reached, rejecting client")
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.registry.Remove(info.ID)
		s.log.WithField("remote", r.RemoteAddr).Warnf("ws upgrade error: %v", err)
		return
	}

	s.metrics.ConnOpened()
	release := s.coord.Track()
	c := newConn(s, ws, info)
	c.log.WithField("clients", s.registry.Count()).Info("client connected")

	go func() {
		defer release()
		c.serve(s.coord.Context())
	}()
}

func (s *Server) newTracker(sink session.Sink, log logrus.FieldLogger) *session.Tracker {
	var obs session.Observer
	if s.metrics != nil {
		obs = s.metrics
	}
	return session.NewTracker(s.source, s.detector, sink, session.TrackerConfig{
		Interval:        s.cfg.Tracking.FrameInterval,
		MaxReadFailures: s.cfg.Tracking.MaxReadFailures,
	}, log, obs)
}

// Serve accepts connections on ln until the shutdown coordinator fires, then
// stops the listener. Open WebSocket connections are not waited for here;
// callers drain them through the coordinator.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.WithField("addr", ln.Addr().String()).Info("server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-s.coord.Done():
	}

	s.log.Info("no longer accepting connections")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warnf("http shutdown: %v", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowAll {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}
