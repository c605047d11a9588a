package transport

import (
	"github.com/pion/webrtc/v3"

	"github.com/avelichka/streamcast/internal/domain"
)

// Transport is one media session with a single remote peer. It abstracts the
// engine underneath (ICE, DTLS, SRTP, codec negotiation) down to the calls
// the orchestrator drives and the events it reacts to.
//
// Description-setting calls must be issued in protocol order; the orchestrator
// guarantees that by gating candidate application on the remote description.
type Transport interface {
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	// LocalDescription returns the current local description including any
	// candidates gathered since SetLocalDescription.
	LocalDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// EnsureTrack attaches a local track, replacing an existing sender of the
	// same kind instead of adding a duplicate.
	EnsureTrack(track webrtc.TrackLocal) error
	// ClearTracks detaches all local tracks.
	ClearTracks() error

	OnICECandidate(f func(candidate webrtc.ICECandidateInit))
	OnGatheringComplete(f func())
	OnConnectionStateChange(f func(state domain.ConnState))
	OnICEConnectionStateChange(f func(state domain.ConnState))
	OnTrack(f func(track *webrtc.TrackRemote))

	Close() error
}

// Factory creates transports for new remote peers.
type Factory interface {
	New() (Transport, error)
}
