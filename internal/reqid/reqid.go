// Package reqid mints the time-ordered correlation ids attached to every
// accepted flow, used solely in logs to tie together the client and server
// sides of one tunnel.
package reqid

import "github.com/google/uuid"

// ID is a time-ordered 128-bit identifier minted once per accepted local
// flow.
type ID = uuid.UUID

// New mints a fresh request id. UUIDv7 embeds a millisecond timestamp in
// its high bits, so ids sort chronologically the way the pack's other
// correlation ids do (google/uuid is already the standard choice across
// the corpus for this role).
func New() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system clock or entropy source is
		// broken beyond repair; fall back to a random v4 rather than
		// propagating an error through every call site that only
		// wants a label for its log lines.
		return uuid.New()
	}
	return id
}
