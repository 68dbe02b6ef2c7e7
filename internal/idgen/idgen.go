// Package idgen mints the opaque identifiers and human-typeable session
// codes used throughout the relay hub.
package idgen

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// codeAlphabet excludes the characters 0, O, 1, I to avoid operator confusion
// when a session code is read aloud or typed from a phone screen.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the number of characters in a session code.
const CodeLength = 6

// NewDeviceID returns a fresh opaque device identifier.
func NewDeviceID() string {
	return uuid.New().String()
}

// NewFileID returns a fresh opaque file identifier. Its string form is
// exactly 36 characters, the width the wire protocol reserves for a file id
// prefix on binary frames.
func NewFileID() string {
	return uuid.New().String()
}

// NewSessionCode draws CodeLength characters from codeAlphabet using a
// cryptographically secure source. Collision avoidance is the registry's
// responsibility, not this function's.
func NewSessionCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session code: %w", err)
	}
	code := make([]byte, CodeLength)
	for i, b := range buf {
		code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(code), nil
}
