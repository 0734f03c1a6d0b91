package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// local control surface; the overlay page may be served from elsewhere
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the WebSocket envelope in both directions.
type Message struct {
	Type      string    `json:"type"` // snapshot, overlay, ack, error, pong | command, ping
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`

	// client commands
	Command string `json:"command,omitempty"`
	Address string `json:"address,omitempty"`
	ID      string `json:"id,omitempty"`
	Note    string `json:"note,omitempty"`
}

func (s *Server) streamState(c *gin.Context) {
	updates, cancel := s.core.Subscribe()
	s.stream(c, "snapshot", cancel, func(out chan<- any, done <-chan struct{}) {
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return
				}
				select {
				case out <- snap:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	})
}

func (s *Server) streamOverlay(c *gin.Context) {
	updates, cancel := s.core.Overlay()
	s.stream(c, "overlay", cancel, func(out chan<- any, done <-chan struct{}) {
		for {
			select {
			case st, ok := <-updates:
				if !ok {
					return
				}
				select {
				case out <- st:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	})
}

// stream upgrades the request and runs the pumps. forward copies updates
// into out until done closes or the source ends.
func (s *Server) stream(c *gin.Context, kind string, cancel func(), forward func(out chan<- any, done <-chan struct{})) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		cancel()
		s.logger.WithField("error", err).Warn("WebSocket upgrade failed")
		return
	}

	client := c.ClientIP()
	s.logger.WithFields(logrus.Fields{"client": client, "stream": kind}).Info("WebSocket client connected")

	updates := make(chan any, 1)
	replies := make(chan Message, 8)
	done := make(chan struct{})

	go func() {
		forward(updates, done)
		close(updates)
	}()
	go s.writePump(ws, kind, updates, replies, done)
	s.readPump(ws, replies, done)

	cancel()
	s.logger.WithFields(logrus.Fields{"client": client, "stream": kind}).Info("WebSocket client disconnected")
}

// readPump handles client messages until the connection fails.
func (s *Server) readPump(ws *websocket.Conn, replies chan<- Message, done chan struct{}) {
	defer func() {
		close(done)
		_ = ws.Close()
	}()

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WithField("error", err).Debug("WebSocket read error")
			}
			return
		}

		var reply Message
		switch msg.Type {
		case "ping":
			reply = Message{Type: "pong"}
		case "command":
			reply = s.execute(msg)
		default:
			reply = Message{Type: "error", Error: "unknown message type " + msg.Type}
		}
		reply.Timestamp = time.Now()

		select {
		case replies <- reply:
		default:
			s.logger.Warn("WebSocket client not reading replies; dropping")
		}
	}
}

func (s *Server) writePump(ws *websocket.Conn, kind string, updates <-chan any, replies <-chan Message, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	write := func(msg Message) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(msg); err != nil {
			s.logger.WithField("error", err).Debug("WebSocket write failed")
			return false
		}
		return true
	}

	for {
		select {
		case data, ok := <-updates:
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "monitor stopped"))
				return
			}
			if !write(Message{Type: kind, Timestamp: time.Now(), Data: data}) {
				return
			}
		case reply := <-replies:
			if !write(reply) {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// execute runs one client command.
func (s *Server) execute(msg Message) Message {
	var err error
	switch msg.Command {
	case "start_scan":
		err = s.core.StartScan()
	case "stop_scan":
		err = s.core.StopScan()
	case "connect":
		err = s.core.Connect(msg.Address)
	case "disconnect":
		err = s.core.Disconnect()
	case "toggle_recording":
		err = s.core.ToggleRecording()
	case "show_overlay":
		err = s.core.ShowOverlay()
	case "hide_overlay":
		err = s.core.HideOverlay()
	case "clear_error":
		err = s.core.ClearError()
	case "delete_session":
		s.core.DeleteSession(msg.ID)
	case "update_note":
		s.core.UpdateNote(msg.ID, msg.Note)
	default:
		return Message{Type: "error", Command: msg.Command, Error: "unknown command"}
	}
	if err != nil {
		return Message{Type: "error", Command: msg.Command, Error: err.Error()}
	}
	return Message{Type: "ack", Command: msg.Command}
}
