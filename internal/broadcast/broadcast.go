// Package broadcast fans a single control frame out to every member of a
// session, the way the rest of the hub's packages fan an event out to
// multiple independent listeners.
package broadcast

import (
	"encoding/json"
	"log/slog"

	"github.com/rjsadow/relayhub/internal/registry"
)

// ToSession marshals frame once and enqueues it on every member of sess
// except, optionally, excludeDeviceID. A full or dead member queue never
// stops delivery to the rest.
func ToSession(sess *registry.Session, frame any, excludeDeviceID string) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("failed to marshal broadcast frame", "error", err)
		return
	}

	for _, member := range sess.Members() {
		if member.ID == excludeDeviceID {
			continue
		}
		member.SendJSON(data)
	}
}
