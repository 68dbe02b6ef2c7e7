package registry

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/rjsadow/relayhub/internal/idgen"
)

// ErrSessionNotFound is returned by Join when no session exists for a code.
var ErrSessionNotFound = errors.New("session not found")

// StatsRecorder receives cumulative counters. A nil recorder is valid; it
// simply means the optional durable stats store isn't available.
type StatsRecorder interface {
	IncrementUsers() error
	IncrementSessions() error
}

const maxCodeAttempts = 20

// Registry is the authoritative, in-memory directory of live sessions and
// the device→session index. Lock ordering: Registry.mu is always acquired
// before any Session's own lock, never the reverse.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	index    map[string]string // device id -> session code

	stats StatsRecorder
	log   *slog.Logger
}

// New constructs an empty Registry. stats may be nil.
func New(stats StatsRecorder, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		index:    make(map[string]string),
		stats:    stats,
		log:      log,
	}
}

// Create mints a new session code, registers device as its sole member, and
// returns the new Session.
func (r *Registry) Create(device *Device) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.freshCodeLocked()
	if err != nil {
		return nil, err
	}

	sess := newSession(code)
	sess.addDevice(device)
	r.sessions[code] = sess
	r.index[device.ID] = code

	r.bumpCounters(true)
	return sess, nil
}

// Join adds device to the session named by code (case-insensitive).
func (r *Registry) Join(code string, device *Device) (*Session, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	r.mu.Lock()
	sess, ok := r.sessions[code]
	if !ok {
		r.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	r.index[device.ID] = code
	sess.addDevice(device)
	r.mu.Unlock()

	r.bumpCounters(false)
	return sess, nil
}

// Leave removes device from whatever session it currently belongs to, if any.
// Returns the session it left (or nil if it wasn't in one).
func (r *Registry) Leave(deviceID string) *Session {
	r.mu.Lock()
	code, ok := r.index[deviceID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.index, deviceID)
	sess := r.sessions[code]
	if sess != nil {
		sess.removeDevice(deviceID)
	}
	r.mu.Unlock()

	return sess
}

// Lookup returns the session a device currently belongs to, if any.
func (r *Registry) Lookup(deviceID string) (*Session, bool) {
	r.mu.RLock()
	code, ok := r.index[deviceID]
	if !ok {
		r.mu.RUnlock()
		return nil, false
	}
	sess := r.sessions[code]
	r.mu.RUnlock()
	return sess, sess != nil
}

// Sessions returns a snapshot of all live sessions, for the janitor and for
// HTTP introspection endpoints.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// DeleteEmpty drops code from the registry if its session currently has no
// members. Safe to call repeatedly; deletion is idempotent.
func (r *Registry) DeleteEmpty(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[code]
	if !ok {
		return
	}
	if sess.DeviceCount() > 0 {
		return
	}
	delete(r.sessions, code)
	r.log.Debug("session reclaimed", "code", code)
}

func (r *Registry) freshCodeLocked() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := idgen.NewSessionCode()
		if err != nil {
			return "", err
		}
		if _, exists := r.sessions[code]; !exists {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a unique session code")
}

func (r *Registry) bumpCounters(newSession bool) {
	if r.stats == nil {
		return
	}
	if err := r.stats.IncrementUsers(); err != nil {
		r.log.Warn("failed to record user count", "error", err)
	}
	if newSession {
		if err := r.stats.IncrementSessions(); err != nil {
			r.log.Warn("failed to record session count", "error", err)
		}
	}
}
