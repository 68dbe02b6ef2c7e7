package registry

import (
	"testing"

	"github.com/rjsadow/relayhub/internal/idgen"
)

func newTestDevice(name string) *Device {
	return NewDevice(idgen.NewDeviceID(), name, "mac")
}

func TestCreateAssignsUniqueCode(t *testing.T) {
	r := New(nil, nil)
	d := newTestDevice("alice")

	sess, err := r.Create(d)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(sess.Code) != idgen.CodeLength {
		t.Errorf("len(code) = %d, want %d", len(sess.Code), idgen.CodeLength)
	}
	if sess.DeviceCount() != 1 {
		t.Errorf("DeviceCount() = %d, want 1", sess.DeviceCount())
	}

	got, ok := r.Lookup(d.ID)
	if !ok || got.Code != sess.Code {
		t.Fatalf("Lookup(%q) = %v, %v, want session %q", d.ID, got, ok, sess.Code)
	}
}

func TestJoinIsCaseInsensitive(t *testing.T) {
	r := New(nil, nil)
	host := newTestDevice("host")
	sess, err := r.Create(host)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	guest := newTestDevice("guest")
	joined, err := r.Join(sess.Code, guest)
	if err != nil {
		t.Fatalf("Join(upper) error = %v", err)
	}
	if joined.Code != sess.Code {
		t.Fatalf("joined wrong session")
	}

	guest2 := newTestDevice("guest2")
	lower := toLower(sess.Code)
	if _, err := r.Join(lower, guest2); err != nil {
		t.Fatalf("Join(lower) error = %v", err)
	}
	if sess.DeviceCount() != 3 {
		t.Errorf("DeviceCount() = %d, want 3", sess.DeviceCount())
	}
}

func TestJoinUnknownCodeFails(t *testing.T) {
	r := New(nil, nil)
	d := newTestDevice("nobody")
	if _, err := r.Join("ZZZZZZ", d); err != ErrSessionNotFound {
		t.Fatalf("Join() error = %v, want ErrSessionNotFound", err)
	}
}

func TestLeaveMarksSessionEmpty(t *testing.T) {
	r := New(nil, nil)
	d := newTestDevice("solo")
	sess, err := r.Create(d)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	left := r.Leave(d.ID)
	if left == nil || left.Code != sess.Code {
		t.Fatalf("Leave() returned %v, want session %q", left, sess.Code)
	}
	if sess.DeviceCount() != 0 {
		t.Errorf("DeviceCount() = %d, want 0", sess.DeviceCount())
	}
	if _, ok := r.Lookup(d.ID); ok {
		t.Error("device should no longer be indexed after leaving")
	}
}

func TestDeleteEmptyIsIdempotentAndRefusesNonEmpty(t *testing.T) {
	r := New(nil, nil)
	d := newTestDevice("keeper")
	sess, err := r.Create(d)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	r.DeleteEmpty(sess.Code)
	if _, ok := r.Lookup(d.ID); !ok {
		t.Fatal("non-empty session must not be deleted")
	}

	r.Leave(d.ID)
	r.DeleteEmpty(sess.Code)
	r.DeleteEmpty(sess.Code) // idempotent, must not panic

	found := false
	for _, s := range r.Sessions() {
		if s.Code == sess.Code {
			found = true
		}
	}
	if found {
		t.Error("empty session should have been reclaimed")
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
