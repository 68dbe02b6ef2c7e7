// Package janitor periodically reclaims stale files and empty sessions so a
// hub left running reverts to a clean state without an operator's help.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/rjsadow/relayhub/internal/broadcast"
	"github.com/rjsadow/relayhub/internal/protocol"
	"github.com/rjsadow/relayhub/internal/registry"
)

// Janitor sweeps the registry on a fixed interval.
type Janitor struct {
	registry *registry.Registry
	fileTTL  time.Duration
	interval time.Duration
	log      *slog.Logger
}

// New constructs a Janitor. It does nothing until Run is called.
func New(reg *registry.Registry, fileTTL, interval time.Duration, log *slog.Logger) *Janitor {
	if log == nil {
		log = slog.Default()
	}
	return &Janitor{registry: reg, fileTTL: fileTTL, interval: interval, log: log}
}

// Run blocks, sweeping every interval until ctx is canceled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

// OnSessionEmptied schedules the one-shot, redundant check described for the
// empty-session GC path: if the session is still empty fileTTL later, reclaim
// it immediately rather than waiting for the next periodic sweep.
func (j *Janitor) OnSessionEmptied(code string) {
	time.AfterFunc(j.fileTTL, func() {
		j.registry.DeleteEmpty(code)
	})
}

func (j *Janitor) sweep() {
	for _, sess := range j.registry.Sessions() {
		sess.ExpireFiles(j.fileTTL, func(f *registry.File) {
			j.log.Debug("file expired", "session", sess.Code, "file", f.ID)
			broadcast.ToSession(sess, protocol.FileRemovedMsg{Type: "file_removed", FileID: f.ID}, "")
		})

		if sess.DeviceCount() == 0 && sess.EmptyDuration() >= j.fileTTL {
			j.registry.DeleteEmpty(sess.Code)
		}
	}
}
