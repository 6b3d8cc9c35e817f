package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/yndnr/mdmcache-go/internal/infra/tlsroots"
)

// Config configures the HTTP server.
type Config struct {
	Addr        string
	TLSCertFile string
	TLSKeyFile  string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	cfg        Config
	logger     *slog.Logger

	mu        sync.Mutex
	stopCerts context.CancelFunc
}

// New creates a new HTTP server. No write timeout is set: fetch and rebuild
// responses stream for as long as the partition takes.
func New(cfg Config, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Serve accepts connections on ln until Shutdown. TLS is used when a
// certificate is configured; the key pair is reloaded when its files
// change. http.ErrServerClosed is not an error.
func (s *Server) Serve(ln net.Listener) error {
	var err error
	if s.cfg.TLSCertFile != "" {
		kp, kerr := tlsroots.NewKeypair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile, tlsroots.WithLogger(s.logger))
		if kerr != nil {
			ln.Close()
			return kerr
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.stopCerts = cancel
		s.mu.Unlock()
		go func() {
			if err := kp.Watch(ctx); err != nil {
				s.logger.Warn("certificate reload disabled", "error", err)
			}
		}()

		s.httpServer.TLSConfig = kp.ServerConfig()
		s.logger.Info("https server listening", "addr", ln.Addr().String())
		err = s.httpServer.ServeTLS(ln, "", "")
	} else {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		err = s.httpServer.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown gracefully shuts down the server. Streams still running when
// ctx expires are cut.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopCerts != nil {
		s.stopCerts()
	}
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("shutdown timeout, closing remaining connections")
		return s.httpServer.Close()
	}
	return err
}
