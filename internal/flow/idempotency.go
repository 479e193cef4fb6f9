package flow

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// IdempotencyKey derives a stable key from (instanceId, stateId, eventId) so
// a handler re-run after a crash can recognize it already produced this
// step's result (spec.md Non-goals: at-least-once with idempotency-friendly
// semantics, not exactly-once).
func IdempotencyKey(instanceID, stateID, eventID string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(instanceID))
	h.Write([]byte{0})
	h.Write([]byte(stateID))
	h.Write([]byte{0})
	h.Write([]byte(eventID))
	return hex.EncodeToString(h.Sum(nil))
}
