package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v3"

	"github.com/avelichka/streamcast/internal/domain"
)

var ErrCaptureUnavailable = errors.New("capture unavailable")

// Stream is one owned local capture stream. Its tracks are shared with peer
// transports by attachment; ownership stays here and Close stops production.
type Stream struct {
	kind   domain.StreamKind
	tracks []webrtc.TrackLocal
	stop   func()
}

func NewStream(kind domain.StreamKind, tracks []webrtc.TrackLocal, stop func()) *Stream {
	return &Stream{kind: kind, tracks: tracks, stop: stop}
}

func (s *Stream) Kind() domain.StreamKind {
	return s.kind
}

func (s *Stream) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

// Close stops all track production. Safe to call multiple times.
func (s *Stream) Close() {
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

// Capture is the platform capability that produces local streams. The
// production implementation talks to real devices; tests and headless runs
// use the synthetic source.
type Capture interface {
	Acquire(ctx context.Context, kind domain.StreamKind) (*Stream, error)
}
