package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/srg/heartflot/internal/device"
	"github.com/srg/heartflot/internal/monitor"
	"github.com/srg/heartflot/internal/session"
	"github.com/srg/heartflot/internal/store"
)

// SessionView is a session with its derived statistics.
type SessionView struct {
	session.Session
	Stats      session.Stats `json:"stats"`
	DurationMs int64         `json:"durationMs"`
}

func newSessionView(s session.Session) SessionView {
	return SessionView{Session: s, Stats: s.Stats(), DurationMs: s.Duration().Milliseconds()}
}

type noteRequest struct {
	Note *string `json:"note" binding:"required"`
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Snapshot())
}

// command adapts a monitor command to a handler answering with the
// snapshot taken after the command.
func (s *Server) command(fn func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, s.core.Snapshot())
	}
}

func (s *Server) connect(c *gin.Context) {
	if err := s.core.Connect(c.Param("address")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.core.Snapshot())
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.core.Sessions(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	views := make([]SessionView, len(sessions))
	for i, ss := range sessions {
		views[i] = newSessionView(ss)
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) getSession(c *gin.Context) {
	ss, err := s.core.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionView(ss))
}

func (s *Server) deleteSession(c *gin.Context) {
	s.core.DeleteSession(c.Param("id"))
	c.Status(http.StatusAccepted)
}

func (s *Server) clearSessions(c *gin.Context) {
	s.core.ClearSessions()
	c.Status(http.StatusAccepted)
}

func (s *Server) updateNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"note\": \"...\"}"})
		return
	}
	s.core.UpdateNote(c.Param("id"), *req.Note)
	c.Status(http.StatusAccepted)
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithField("error", err).Error("Request failed")
	}
	body := gin.H{"error": err.Error()}
	var derr *device.Error
	if errors.As(err, &derr) {
		body["kind"] = derr.Kind
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, device.ErrBusy), errors.Is(err, device.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, device.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, device.ErrAdapterDisabled), errors.Is(err, monitor.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, device.ErrUnsupportedPlatform):
		return http.StatusNotImplemented
	}
	var derr *device.Error
	if errors.As(err, &derr) {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}
