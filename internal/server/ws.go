package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/facecam/internal/session"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Publisher pushes session snapshots after every change.
type Publisher interface {
	Subscribe() (<-chan session.Snapshot, func())
	Snapshot() session.Snapshot
}

// DetectionsHandler streams session snapshots via WebSocket.
type DetectionsHandler struct {
	publisher Publisher
	log       logrus.FieldLogger
}

// NewDetectionsHandler creates a new DetectionsHandler.
func NewDetectionsHandler(p Publisher, log logrus.FieldLogger) *DetectionsHandler {
	return &DetectionsHandler{publisher: p, log: log}
}

// ServeHTTP upgrades the connection and sends the current snapshot followed
// by one message per update until the client goes away.
func (h *DetectionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := h.publisher.Subscribe()
	defer cancel()

	// The read loop only notices the client closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.send(conn, h.publisher.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case snap := <-updates:
			if err := h.send(conn, snap); err != nil {
				h.log.WithError(err).Debug("websocket client dropped")
				return
			}
		}
	}
}

func (h *DetectionsHandler) send(conn *websocket.Conn, snap session.Snapshot) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snap)
}
