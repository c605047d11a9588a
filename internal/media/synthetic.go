package media

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/avelichka/streamcast/internal/domain"
)

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 33 * time.Millisecond
)

// SyntheticCapture produces silent audio and blank video sample tracks. It
// stands in for device capture on headless hosts and in tests.
type SyntheticCapture struct{}

func NewSyntheticCapture() *SyntheticCapture {
	return &SyntheticCapture{}
}

func (s *SyntheticCapture) Acquire(ctx context.Context, kind domain.StreamKind) (*Stream, error) {
	if kind != domain.StreamCamera && kind != domain.StreamScreen {
		return nil, fmt.Errorf("%w: unknown stream kind %q", ErrCaptureUnavailable, kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := uuid.New().String()

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		string(kind), streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	done := make(chan struct{})
	go writeSilence(audio, done)
	go writeBlankFrames(video, done)

	stop := func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}

	return NewStream(kind, []webrtc.TrackLocal{audio, video}, stop), nil
}

func writeSilence(track *webrtc.TrackLocalStaticSample, done <-chan struct{}) {
	// Opus silence frame.
	frame := []byte{0xf8, 0xff, 0xfe}
	ticker := time.NewTicker(audioFrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = track.WriteSample(media.Sample{Data: frame, Duration: audioFrameInterval})
		}
	}
}

func writeBlankFrames(track *webrtc.TrackLocalStaticSample, done <-chan struct{}) {
	frame := make([]byte, 64)
	ticker := time.NewTicker(videoFrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = track.WriteSample(media.Sample{Data: frame, Duration: videoFrameInterval})
		}
	}
}
