package status

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API already enforces auth; cross-origin dashboards are allowed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// Snapshot reports the connected event for a fresh subscriber plus whether
// the job is already over. ServeWS calls it after subscribing, so a terminal
// transition either lands in the snapshot or arrives on the subscription;
// it cannot fall between the two.
type Snapshot func() (connected Event, terminal bool)

// ServeWS upgrades the request to a websocket and streams events for one
// receipt id until a terminal event or the client disconnects. The snapshot
// event is sent first so late joiners at least see the current state; when
// it reports the job already over, the connection ends right after.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request, receiptID string, snapshot Snapshot) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Websocket upgrade failed", "receipt_id", receiptID, "error", err)
		return
	}
	defer conn.Close()

	sub := hub.Subscribe(receiptID)
	defer sub.Close()

	connected, alreadyTerminal := snapshot()
	if err := writeEvent(conn, connected); err != nil {
		return
	}
	if alreadyTerminal {
		return
	}

	// Detect client disconnects; inbound frames are otherwise ignored.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeEvent(conn, event); err != nil {
				return
			}
			if event.Terminal() {
				return
			}
		case <-clientGone:
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, event Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(event)
}
