package coordinator

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"realtimeedit/go-server/ot"
)

// Same timing budget as the teacher's websocket/client.go, generalized
// from canvas strokes to operation broadcasts.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Connection is a single live channel (spec §3's "Connection Info"),
// renamed from the teacher's Client to match the domain.
type Connection struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	sessionID string

	mu             sync.Mutex
	userID         string
	cursorPosition int
	lastActivity   time.Time
	vc             ot.VectorClock
	connectedAt    time.Time
}

func newConnection(hub *Hub, conn *websocket.Conn, sessionID, userID string) *Connection {
	return &Connection{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, 256),
		sessionID:    sessionID,
		userID:       userID,
		vc:           ot.NewVectorClock(),
		lastActivity: time.Now(),
		connectedAt:  time.Now(),
	}
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Connection) idleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

func (c *Connection) mergeVC(other ot.VectorClock) ot.VectorClock {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vc = c.vc.Merge(other)
	return c.vc.Clone()
}

func (c *Connection) setCursor(pos int) {
	c.mu.Lock()
	c.cursorPosition = pos
	c.mu.Unlock()
}

// ServeWs upgrades an HTTP request to a websocket and registers the
// resulting Connection with the hub. sessionID and userID are parsed by
// the caller from the /ws/{session_id}?user_id= route (spec §6).
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, sessionID, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newConnection(hub, conn, sessionID, userID)
	hub.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.touch()
		c.hub.inbound <- inboundEvent{conn: c, payload: message}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
