package live

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/internal/project"
)

// MessageType names a message sent to a live client.
type MessageType string

const (
	MsgTypeSubscribed     MessageType = "Subscribed"
	MsgTypeProjectChanged MessageType = "ProjectChanged"
)

// Message is the envelope written to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	ProjectID string          `json:"project_id"`
	Change    *project.Change `json:"change,omitempty"`
	// Timestamp is RFC 3339.
	Timestamp string `json:"timestamp"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS upgrades the request and streams projectID's changes until the
// client disconnects or the hub closes. The caller checks that the project
// exists.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, projectID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.log.Debug("WebSocket upgrade failed.", zap.Error(err))
		return
	}
	sub := h.Subscribe(projectID)
	h.log.Debug("Live client connected.", zap.String("project_id", projectID))

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, projectID, done)

	sub.Close()
	conn.Close()
	<-done
	h.log.Debug("Live client disconnected.", zap.String("project_id", projectID))
}

// readPump only services control frames; clients have nothing to say. It
// closes done when the connection fails or is closed.
func (h *Hub) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("Live connection closed unexpectedly.", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *Subscription, projectID string, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := h.write(conn, Message{Type: MsgTypeSubscribed, ProjectID: projectID}); err != nil {
		return
	}
	for {
		select {
		case change, ok := <-sub.C:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := h.write(conn, Message{Type: MsgTypeProjectChanged, ProjectID: projectID, Change: &change}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, msg Message) error {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := conn.WriteJSON(msg); err != nil {
		h.log.Debug("Failed to write live message.", zap.Error(err))
		return err
	}
	return nil
}
