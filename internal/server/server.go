// Package server exposes the monitor over HTTP: REST commands and queries,
// plus WebSocket streams of snapshots and overlay state.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/srg/heartflot/internal/monitor"
	"github.com/srg/heartflot/internal/session"
)

// Core is the part of the monitor the server drives.
type Core interface {
	Snapshot() monitor.Snapshot
	Subscribe() (<-chan monitor.Snapshot, func())
	Overlay() (<-chan monitor.OverlayState, func())

	StartScan() error
	StopScan() error
	Connect(address string) error
	Disconnect() error
	ToggleRecording() error
	StartRecording() error
	StopRecording() error
	ShowOverlay() error
	HideOverlay() error
	ClearError() error

	Sessions(ctx context.Context) ([]session.Session, error)
	Session(ctx context.Context, id string) (session.Session, error)
	DeleteSession(id string)
	UpdateNote(id, note string)
	ClearSessions()
}

// Server routes HTTP requests to a Core.
type Server struct {
	core   Core
	logger *logrus.Logger
	engine *gin.Engine
}

// New builds the router.
func New(core Core, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{core: core, logger: logger, engine: gin.New()}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on listen until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.WithField("listen", listen).Info("HTTP server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("HTTP request")
	}
}
