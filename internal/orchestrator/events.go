package orchestrator

import (
	"github.com/pion/webrtc/v3"

	"github.com/avelichka/streamcast/internal/domain"
)

// Events is the outbound notification surface. The orchestrator emits to it
// instead of holding UI callbacks, so any frontend can subscribe.
type Events interface {
	OnPeerJoined(peer domain.PeerInfo)
	OnPeerLeft(peerID string)
	OnPeerStateChange(peerID string, state domain.ConnState)
	OnRemoteTrack(peerID string, track *webrtc.TrackRemote)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) OnPeerJoined(domain.PeerInfo)               {}
func (NopEvents) OnPeerLeft(string)                          {}
func (NopEvents) OnPeerStateChange(string, domain.ConnState) {}
func (NopEvents) OnRemoteTrack(string, *webrtc.TrackRemote)  {}
