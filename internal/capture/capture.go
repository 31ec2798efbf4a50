// Package capture manages the camera device as a scoped acquisition: acquire
// on open, release on every exit path, never leak a live handle.
package capture

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrPermissionDenied means the user or platform refused camera access.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrDeviceUnavailable means no usable camera device was found.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	// ErrNotReady means the live buffer has no pixels yet (device warming up).
	ErrNotReady = errors.New("camera not ready")
	// ErrNotOpen means a frame was requested without an open session.
	ErrNotOpen = errors.New("capture session not open")
)

// Frame is a single still image snapshotted from the live preview.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Discard zeroes the image payload. Frames hold biometric data and must not
// outlive the flow that captured them.
func (f *Frame) Discard() {
	for i := range f.Data {
		f.Data[i] = 0
	}
	f.Data = nil
	f.Width, f.Height = 0, 0
}

// Device is implemented by camera providers.
type Device interface {
	// Open acquires the device and starts a live stream. Fails with
	// ErrPermissionDenied or ErrDeviceUnavailable.
	Open(ctx context.Context) (Stream, error)
}

// Stream is a live camera handle.
type Stream interface {
	// Grab snapshots the current preview buffer into a still image.
	Grab() (Frame, error)
	// Close stops the underlying media tracks. Must be idempotent.
	Close() error
}

// Session owns at most one live stream over a Device.
type Session struct {
	device Device

	mu     sync.Mutex
	stream Stream
}

// NewSession wraps a device. The session starts closed.
func NewSession(device Device) *Session {
	return &Session{device: device}
}

// Open acquires the camera. Opening an already-open session is a no-op.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return nil
	}
	stream, err := s.device.Open(ctx)
	if err != nil {
		return err
	}
	s.stream = stream
	return nil
}

// Capture snapshots the current preview buffer. A zero-dimension buffer fails
// with ErrNotReady rather than producing a degenerate image.
func (s *Session) Capture() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return Frame{}, ErrNotOpen
	}
	frame, err := s.stream.Grab()
	if err != nil {
		return Frame{}, err
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		return Frame{}, ErrNotReady
	}
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = time.Now().UTC()
	}
	return frame, nil
}

// Close stops the stream and clears the handle. Safe to call multiple times
// and on a session that never opened.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}

// Active reports whether a live handle is currently held.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}
