package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"
)

// FileDevice replays a still image file as if it were a camera. Used by the
// kiosk harness and local development.
type FileDevice struct {
	Path string
}

// Open reads and probes the image file.
func (d FileDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.Path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrDeviceUnavailable, d.Path, err)
	}
	return &fileStream{data: data, width: cfg.Width, height: cfg.Height}, nil
}

type fileStream struct {
	data   []byte
	width  int
	height int
	closed bool
}

func (s *fileStream) Grab() (Frame, error) {
	if s.closed {
		return Frame{}, ErrNotOpen
	}
	// Copy so the flow can discard its frame without touching the stream buffer.
	data := make([]byte, len(s.data))
	copy(data, s.data)
	return Frame{Data: data, Width: s.width, Height: s.height, CapturedAt: time.Now().UTC()}, nil
}

func (s *fileStream) Close() error {
	s.closed = true
	s.data = nil
	return nil
}
