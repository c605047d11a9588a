package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/avelichka/streamcast/internal/domain"
)

// Controller owns the local capture stream. At most one stream is held at a
// time; acquiring a new one always stops the previous one first.
type Controller struct {
	capture Capture
	log     *slog.Logger

	mu     sync.Mutex
	stream *Stream
}

func NewController(capture Capture, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{capture: capture, log: log}
}

// Acquire requests a capture stream of the given kind and replaces any held
// stream with it. The previous stream is stopped first; a failed capture
// therefore leaves no stream held.
func (c *Controller) Acquire(ctx context.Context, kind domain.StreamKind) (*Stream, error) {
	const op = "media.controller.acquire"

	c.mu.Lock()
	old := c.stream
	c.stream = nil
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	stream, err := c.capture.Acquire(ctx, kind)
	if err != nil {
		c.log.Error("capture failed", slog.String("op", op), slog.String("kind", string(kind)))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()

	c.log.Info("local stream acquired", slog.String("kind", string(kind)))
	return stream, nil
}

// Release stops and clears the current stream. Safe to call when none is held.
func (c *Controller) Release() {
	c.mu.Lock()
	old := c.stream
	c.stream = nil
	c.mu.Unlock()

	if old != nil {
		old.Close()
		c.log.Info("local stream released", slog.String("kind", string(old.Kind())))
	}
}

// Switch swaps the held stream for one of the given kind. The caller fans the
// new tracks out to peers exactly once after the swap, so observers never see
// an intermediate state.
func (c *Controller) Switch(ctx context.Context, kind domain.StreamKind) (*Stream, error) {
	return c.Acquire(ctx, kind)
}

// Current returns the held stream, or nil.
func (c *Controller) Current() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}
