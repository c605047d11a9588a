package signaling

import (
	"context"
	"errors"

	"github.com/avelichka/streamcast/internal/domain"
)

var (
	ErrLinkUnavailable = errors.New("signaling link unavailable")
	ErrLinkClosed      = errors.New("signaling link closed")
)

// Link is the addressed-messaging channel to the relay. The orchestrator
// depends only on this interface; the websocket client below is the
// production implementation.
//
// Receive's channel is closed when the link drops or is closed. A mid-session
// drop leaves already-established media paths running; only signaling stops.
type Link interface {
	Join(ctx context.Context, roomID, peerID string, role domain.Role) error
	Send(env domain.Envelope) error
	Receive() <-chan domain.Envelope
	Close() error
}
