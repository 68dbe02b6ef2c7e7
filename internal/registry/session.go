package registry

import (
	"errors"
	"sync"
	"time"
)

// ErrFileNotFound is returned when a file id has no matching entry in the session.
var ErrFileNotFound = errors.New("file not found")

// Session is an ephemeral group of devices sharing a code, and the files
// they've exchanged. All membership and file-store mutation goes through a
// Session's own lock. The Registry's lock may already be held when a
// Session's lock is taken; a Session's lock is never held while taking the
// Registry's.
type Session struct {
	Code      string
	CreatedAt time.Time

	mu          sync.Mutex
	devices     map[string]*Device
	deviceOrder []string
	files       map[string]*File
	emptySince  *time.Time
}

func newSession(code string) *Session {
	return &Session{
		Code:      code,
		CreatedAt: time.Now(),
		devices:   make(map[string]*Device),
		files:     make(map[string]*File),
	}
}

// addDevice inserts a device as a member, clearing any pending empty-session mark.
func (s *Session) addDevice(d *Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.devices[d.ID]; !exists {
		s.deviceOrder = append(s.deviceOrder, d.ID)
	}
	s.devices[d.ID] = d
	s.emptySince = nil
}

// removeDevice drops a device from membership. Returns true if the session
// became empty as a result.
func (s *Session) removeDevice(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, deviceID)
	for i, id := range s.deviceOrder {
		if id == deviceID {
			s.deviceOrder = append(s.deviceOrder[:i], s.deviceOrder[i+1:]...)
			break
		}
	}
	empty := len(s.devices) == 0
	if empty {
		now := time.Now()
		s.emptySince = &now
	}
	return empty
}

// DeviceCount returns the current number of members.
func (s *Session) DeviceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}

// Members returns a snapshot of the current devices, safe to range over
// without holding the session lock (per the broadcast discipline in §5).
func (s *Session) Members() []*Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Device, 0, len(s.deviceOrder))
	for _, id := range s.deviceOrder {
		out = append(out, s.devices[id])
	}
	return out
}

// EmptyDuration reports how long the session has had zero members, or 0 if
// it currently has members.
func (s *Session) EmptyDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emptySince == nil {
		return 0
	}
	return time.Since(*s.emptySince)
}

// BeginFile allocates a new open File under id and returns it.
func (s *Session) BeginFile(id, uploaderID, name string, size int64, mime string) *File {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := newFile(id, uploaderID, name, size, mime)
	s.files[id] = f
	return f
}

// TotalDeclaredBytes sums the declared size of every file currently
// buffered, open or complete. Used to enforce an optional soft per-session
// byte cap before a new upload is admitted.
func (s *Session) TotalDeclaredBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, f := range s.files {
		total += f.Size
	}
	return total
}

// AppendFile extends an open file with a chunk.
func (s *Session) AppendFile(fileID string, chunk []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return 0, ErrFileNotFound
	}
	return f.append(chunk)
}

// CompleteFile finalizes an open file.
func (s *Session) CompleteFile(fileID string) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return nil, ErrFileNotFound
	}
	if err := f.complete(); err != nil {
		return nil, err
	}
	return f, nil
}

// GetFile looks up a file by id.
func (s *Session) GetFile(fileID string) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return nil, ErrFileNotFound
	}
	return f, nil
}

// RemoveFile deletes a file from the session.
func (s *Session) RemoveFile(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, fileID)
}

// Files returns a snapshot of the session's current files.
func (s *Session) Files() []*File {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*File, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f)
	}
	return out
}

// ExpireFiles removes every file older than ttl, invoking onExpire for each
// one while still holding no lock across the callback (the snapshot is taken
// under the lock, the callback runs after release).
func (s *Session) ExpireFiles(ttl time.Duration, onExpire func(*File)) {
	s.mu.Lock()
	var expired []*File
	for id, f := range s.files {
		if time.Since(f.UploadedAt) > ttl {
			expired = append(expired, f)
			delete(s.files, id)
		}
	}
	s.mu.Unlock()

	for _, f := range expired {
		onExpire(f)
	}
}
