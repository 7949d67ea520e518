package coordinator

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"realtimeedit/go-server/apperr"
	"realtimeedit/go-server/metrics"
	"realtimeedit/go-server/ot"
	"realtimeedit/go-server/session"
	"realtimeedit/go-server/storage"
)

// inboundEvent is one message read off a Connection's socket, queued onto
// the hub's single event loop.
type inboundEvent struct {
	conn    *Connection
	payload []byte
}

// sessionState is everything the hub owns for one session: the buffer and
// the set of live connections (the live user list is derived from them).
// Per spec §5, all of it is mutated only from within Hub.Run's goroutine.
type sessionState struct {
	buffer      *ot.Buffer
	connections map[*Connection]bool
}

// Hub is the connection coordinator (C6): one goroutine per process
// serializing register/unregister/inbound/broadcast events, generalized
// from the teacher's canvas-stroke hub to ot.Operation broadcasts.
type Hub struct {
	store   session.Store
	metrics *metrics.Aggregator
	limiter *RateLimiter
	backpressure *backpressureGate
	archive *archiver

	register   chan *Connection
	unregister chan *Connection
	inbound    chan inboundEvent

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewHub wires a coordinator against a session store and metrics
// aggregator. s3 may be nil, in which case snapshot/batch archival is
// skipped entirely (local runs and tests without AWS credentials).
func NewHub(store session.Store, agg *metrics.Aggregator, s3 *storage.S3Client) *Hub {
	var archive *archiver
	if s3 != nil {
		archive = newArchiver(s3)
	}
	return &Hub{
		store:        store,
		metrics:      agg,
		limiter:      NewRateLimiter(),
		backpressure: newBackpressureGate(),
		archive:      archive,
		register:     make(chan *Connection),
		unregister:   make(chan *Connection),
		inbound:      make(chan inboundEvent, 256),
		sessions:     make(map[string]*sessionState),
	}
}

// Run is the hub's single event loop. It must run in its own goroutine
// for the process lifetime.
func (h *Hub) Run() {
	healthTicker := time.NewTicker(30 * time.Second)
	cleanupTicker := time.NewTicker(60 * time.Second)
	defer healthTicker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case c := <-h.register:
			h.connect(c)
		case c := <-h.unregister:
			h.disconnect(c)
		case evt := <-h.inbound:
			h.handle(evt.conn, evt.payload)
		case <-healthTicker.C:
			h.healthCheck()
		case <-cleanupTicker.C:
			h.cleanup()
		}
	}
}

// getOrCreateSession returns the session's state, creating and logging a
// fresh one on first connect for the given sessionID.
func (h *Hub) getOrCreateSession(sessionID string) *sessionState {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.sessions[sessionID]
	if ok {
		return st
	}

	content := ""
	if rec, err := h.store.Get(sessionID); err == nil && rec != nil {
		content = rec.Content
	}
	st = &sessionState{
		buffer:      ot.NewBuffer(content, sessionID),
		connections: make(map[*Connection]bool),
	}
	h.sessions[sessionID] = st
	log.Printf("📝 opened session %s", sessionID)
	return st
}

// connect implements spec §4.6's connect operation.
func (h *Hub) connect(c *Connection) {
	start := time.Now()

	st := h.getOrCreateSession(c.sessionID)

	h.mu.Lock()
	st.connections[c] = true
	h.mu.Unlock()

	if _, err := h.store.Join(c.sessionID, c.userID); err != nil {
		h.metrics.RecordError(string(apperr.StoreUnavailable))
	}

	h.metrics.ConnectionOpened()
	h.metrics.RecordLatency(float64(time.Since(start).Microseconds()) / 1000.0)

	users := h.liveUsers(c.sessionID)
	joined := sessionJoined{
		Type:        "session_joined",
		SessionID:   c.sessionID,
		UserID:      c.userID,
		Content:     st.buffer.Content(),
		Users:       users,
		BufferState: st.buffer.Metrics(),
		ServerTime:  nowEpoch(),
	}
	h.sendTo(c, joined)

	h.broadcastExcept(c.sessionID, c, userPresence{
		Type:      "user_joined",
		UserID:    c.userID,
		Timestamp: nowEpoch(),
	})
	log.Printf("👋 %s joined session %s", c.userID, c.sessionID)
}

// disconnect implements spec §4.6's disconnect operation. Idempotent: a
// connection not present in any session set is a no-op.
func (h *Hub) disconnect(c *Connection) {
	h.mu.Lock()
	st, ok := h.sessions[c.sessionID]
	if ok {
		if _, present := st.connections[c]; present {
			delete(st.connections, c)
			close(c.send)
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	h.backpressure.forget(c)
	h.metrics.ConnectionClosed()

	if err := h.store.Leave(c.sessionID, c.userID); err != nil {
		h.metrics.RecordError(string(apperr.StoreUnavailable))
	}

	h.broadcastExcept(c.sessionID, c, userPresence{
		Type:      "user_left",
		UserID:    c.userID,
		Timestamp: nowEpoch(),
	})
	log.Printf("👋 %s left session %s", c.userID, c.sessionID)
}

func (h *Hub) liveUsers(sessionID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.sessions[sessionID]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for c := range st.connections {
		c.mu.Lock()
		uid := c.userID
		c.mu.Unlock()
		if !seen[uid] {
			seen[uid] = true
			out = append(out, uid)
		}
	}
	return out
}

// handle implements spec §4.6's message dispatch.
func (h *Hub) handle(c *Connection, payload []byte) {
	h.metrics.RecordMessage()

	if !h.limiter.Allow(c.userID) {
		h.metrics.RecordError(string(apperr.RateLimited))
		h.sendTo(c, errorOut{Type: "error", Message: "rate limit exceeded"})
		return
	}

	var envelope inboundMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		h.metrics.RecordError(string(apperr.InvalidMessage))
		h.sendTo(c, errorOut{Type: "error", Message: "invalid message"})
		return
	}

	switch envelope.Type {
	case "text_change":
		h.handleTextChange(c, payload)
	case "cursor_change":
		h.handleCursorChange(c, payload)
	case "ping":
		h.sendTo(c, pingPong{Type: "pong", ServerTime: nowEpoch()})
	case "get_metrics":
		h.sendTo(c, metricsOut{Type: "metrics", Data: h.metrics.Snapshot()})
	case "recovery":
		h.handleRecovery(c, payload)
	default:
		h.metrics.RecordError("unknown_message_type")
		h.sendTo(c, errorOut{Type: "error", Message: "unknown message type"})
	}
}

func (h *Hub) handleTextChange(c *Connection, payload []byte) {
	var in struct {
		Type string       `json:"type"`
		textChangeIn
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		h.metrics.RecordError(string(apperr.InvalidMessage))
		h.sendTo(c, errorOut{Type: "error", Message: "invalid text_change payload"})
		return
	}

	start := time.Now()

	st := h.getOrCreateSession(c.sessionID)
	oldContent := st.buffer.Content()
	ops := ot.DiffToOps(oldContent, in.Content, c.userID, time.Now())
	if len(ops) == 0 {
		return
	}

	c.mergeVC(st.buffer.VectorClock())

	var applied []ot.Operation
	var newContent string
	var err error
	for _, op := range ops {
		newContent, err = st.buffer.ApplyLocal(op)
		if err != nil {
			if apperr.Is(err, apperr.Integrity) {
				h.metrics.RecordError(string(apperr.Integrity))
			} else {
				h.metrics.RecordError(string(apperr.Internal))
			}
			h.sendTo(c, errorOut{Type: "error", Message: "operation rejected"})
			return
		}
		applied = append(applied, op)
	}

	if _, err := h.store.UpdateContent(c.sessionID, newContent); err != nil {
		h.metrics.RecordError(string(apperr.StoreUnavailable))
	}

	totalApplied := st.buffer.Metrics().OperationsProcessed
	h.archive.recordOperations(c.sessionID, applied, newContent, int(totalApplied))

	h.metrics.RecordOperationProcessing(float64(time.Since(start).Microseconds()) / 1000.0)

	c.setCursor(in.CursorPosition)

	out := textChangeOut{
		Type:        "text_change",
		Content:     newContent,
		UserID:      c.userID,
		Operations:  applied,
		VectorClock: st.buffer.VectorClock(),
		Timestamp:   nowEpoch(),
		Performance: st.buffer.Metrics(),
	}
	h.broadcastExcept(c.sessionID, c, out)
}

func (h *Hub) handleCursorChange(c *Connection, payload []byte) {
	var in struct {
		Type string `json:"type"`
		cursorChangeIn
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		h.metrics.RecordError(string(apperr.InvalidMessage))
		h.sendTo(c, errorOut{Type: "error", Message: "invalid cursor_change payload"})
		return
	}

	c.setCursor(in.Position)

	out := cursorChangeOut{
		Type:           "cursor_change",
		UserID:         c.userID,
		Position:       in.Position,
		SelectionStart: in.SelectionStart,
		SelectionEnd:   in.SelectionEnd,
		Timestamp:      nowEpoch(),
	}
	h.broadcastExcept(c.sessionID, c, out)
}

// sendTo serializes v and queues it on c's outbound channel.
func (h *Hub) sendTo(c *Connection, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		// Buffer full: treat as a channel error per spec §7 and let the
		// next broadcast/disconnect cycle clean it up.
		h.metrics.RecordError(string(apperr.ChannelError))
	}
}

// broadcastExcept fans v out to every other live connection in sessionID,
// one send task per peer, isolating per-peer failures per spec §4.6.
func (h *Hub) broadcastExcept(sessionID string, except *Connection, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	h.mu.Lock()
	st, ok := h.sessions[sessionID]
	var peers []*Connection
	if ok {
		for c := range st.connections {
			if c != except {
				peers = append(peers, c)
			}
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	var wg sync.WaitGroup
	var failedMu sync.Mutex
	var failed []*Connection

	for _, c := range peers {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if err := h.backpressure.wait(c, len(data)); err != nil {
				failedMu.Lock()
				failed = append(failed, c)
				failedMu.Unlock()
				return
			}
			select {
			case c.send <- data:
			default:
				failedMu.Lock()
				failed = append(failed, c)
				failedMu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	for _, c := range failed {
		h.metrics.RecordError(string(apperr.ChannelError))
		h.disconnect(c)
	}
}

func (h *Hub) healthCheck() {
	h.mu.Lock()
	var stale []*Connection
	for _, st := range h.sessions {
		for c := range st.connections {
			if c.idleSince() > 30*time.Second {
				stale = append(stale, c)
			}
		}
	}
	h.mu.Unlock()

	for _, c := range stale {
		data, _ := json.Marshal(pingPong{Type: "ping", ServerTime: nowEpoch()})
		select {
		case c.send <- data:
		default:
			h.metrics.RecordError(string(apperr.ChannelError))
			h.disconnect(c)
		}
	}
}

func (h *Hub) cleanup() {
	removed := h.limiter.Cleanup()
	if removed > 0 {
		log.Printf("coordinator: pruned %d idle rate-limit rings", removed)
	}
	h.archive.sweep()

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, st := range h.sessions {
		if len(st.connections) > 0 {
			continue
		}
		if time.Since(st.buffer.LastOperationTime()) > 5*time.Minute {
			delete(h.sessions, id)
		}
	}
}
