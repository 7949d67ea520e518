package coordinator

import (
	"encoding/json"

	"realtimeedit/go-server/ot"
)

// recoveryRequest is a reconnecting client's resync request, adapted from
// the teacher's recovery.go RecoveryRequest: instead of a Postgres
// version counter, it carries the count of history entries the client
// already has, since the buffer's history is the append-only source of
// truth (spec §5 "single total order history[0], history[1], ...").
type recoveryRequest struct {
	Type          string `json:"type"`
	LastOpCount   int    `json:"last_op_count"`
}

// recoveryResponse mirrors the teacher's RecoveryResponse shape.
type recoveryResponse struct {
	Type             string         `json:"type"`
	MissedOperations []ot.Operation `json:"missed_operations"`
	CurrentVersion   int            `json:"current_version"`
	Message          string         `json:"message"`
}

// handleRecovery replays history entries a reconnecting client missed,
// instead of resending the full content — a natural extension of the
// append-only history invariant, present in the teacher but absent from
// the distilled wire protocol.
func (h *Hub) handleRecovery(c *Connection, payload []byte) {
	var req recoveryRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendTo(c, errorOut{Type: "error", Message: "invalid recovery request"})
		return
	}

	h.metrics.ReconnectionAttempted()

	st := h.getOrCreateSession(c.sessionID)
	missed := st.buffer.HistorySince(req.LastOpCount)

	message := "session is up to date"
	if len(missed) > 0 {
		message = "recovered missed operations"
	}

	h.sendTo(c, recoveryResponse{
		Type:             "recovery",
		MissedOperations: missed,
		CurrentVersion:   len(st.buffer.History()),
		Message:          message,
	})
}
