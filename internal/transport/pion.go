package transport

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/avelichka/streamcast/internal/domain"
)

// PionFactory builds transports backed by pion peer connections.
type PionFactory struct {
	config webrtc.Configuration
}

func NewPionFactory(stunServers []string) *PionFactory {
	return &PionFactory{
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{
				{URLs: stunServers},
			},
		},
	}
}

func (f *PionFactory) New() (Transport, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	t := &pionTransport{pc: pc}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		t.mu.RLock()
		onCandidate := t.onCandidate
		onGathered := t.onGathered
		t.mu.RUnlock()

		// A nil candidate marks the end of gathering.
		if candidate == nil {
			if onGathered != nil {
				onGathered()
			}
			return
		}
		if onCandidate != nil {
			onCandidate(candidate.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.mu.RLock()
		handler := t.onConnState
		t.mu.RUnlock()
		if handler != nil {
			handler(mapConnectionState(state))
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.mu.RLock()
		handler := t.onICEState
		t.mu.RUnlock()
		if handler != nil {
			handler(mapICEState(state))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.mu.RLock()
		handler := t.onTrack
		t.mu.RUnlock()
		if handler != nil {
			handler(track)
		}
	})

	return t, nil
}

type pionTransport struct {
	pc *webrtc.PeerConnection

	mu          sync.RWMutex
	onCandidate func(webrtc.ICECandidateInit)
	onGathered  func()
	onConnState func(domain.ConnState)
	onICEState  func(domain.ConnState)
	onTrack     func(*webrtc.TrackRemote)
}

func (t *pionTransport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	return t.pc.CreateOffer(opts)
}

func (t *pionTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

func (t *pionTransport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

func (t *pionTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

func (t *pionTransport) LocalDescription() *webrtc.SessionDescription {
	return t.pc.LocalDescription()
}

func (t *pionTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

func (t *pionTransport) EnsureTrack(track webrtc.TrackLocal) error {
	for _, sender := range t.pc.GetSenders() {
		existing := sender.Track()
		if existing != nil && existing.Kind() == track.Kind() {
			return sender.ReplaceTrack(track)
		}
	}

	_, err := t.pc.AddTrack(track)
	return err
}

func (t *pionTransport) ClearTracks() error {
	for _, sender := range t.pc.GetSenders() {
		if sender.Track() == nil {
			continue
		}
		if err := t.pc.RemoveTrack(sender); err != nil {
			return err
		}
	}
	return nil
}

func (t *pionTransport) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onCandidate = f
	t.mu.Unlock()
}

func (t *pionTransport) OnGatheringComplete(f func()) {
	t.mu.Lock()
	t.onGathered = f
	t.mu.Unlock()
}

func (t *pionTransport) OnConnectionStateChange(f func(domain.ConnState)) {
	t.mu.Lock()
	t.onConnState = f
	t.mu.Unlock()
}

func (t *pionTransport) OnICEConnectionStateChange(f func(domain.ConnState)) {
	t.mu.Lock()
	t.onICEState = f
	t.mu.Unlock()
}

func (t *pionTransport) OnTrack(f func(*webrtc.TrackRemote)) {
	t.mu.Lock()
	t.onTrack = f
	t.mu.Unlock()
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}

func mapConnectionState(state webrtc.PeerConnectionState) domain.ConnState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return domain.ConnStateNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnStateFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnStateClosed
	default:
		return domain.ConnStateNew
	}
}

func mapICEState(state webrtc.ICEConnectionState) domain.ConnState {
	switch state {
	case webrtc.ICEConnectionStateNew:
		return domain.ConnStateNew
	case webrtc.ICEConnectionStateChecking:
		return domain.ConnStateConnecting
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return domain.ConnStateConnected
	case webrtc.ICEConnectionStateDisconnected:
		return domain.ConnStateDisconnected
	case webrtc.ICEConnectionStateFailed:
		return domain.ConnStateFailed
	case webrtc.ICEConnectionStateClosed:
		return domain.ConnStateClosed
	default:
		return domain.ConnStateNew
	}
}
