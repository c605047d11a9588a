package orchestrator

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/avelichka/streamcast/internal/domain"
	"github.com/avelichka/streamcast/internal/media"
	"github.com/avelichka/streamcast/internal/signaling"
	"github.com/avelichka/streamcast/internal/transport"
)

type fakeLink struct {
	mu       sync.Mutex
	joinErr  error
	joined   bool
	closed   bool
	sent     []domain.Envelope
	sentCh   chan domain.Envelope
	incoming chan domain.Envelope
	once     sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		sentCh:   make(chan domain.Envelope, 64),
		incoming: make(chan domain.Envelope, 64),
	}
}

func (l *fakeLink) Join(_ context.Context, _, _ string, _ domain.Role) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.joinErr != nil {
		return l.joinErr
	}
	l.joined = true
	return nil
}

func (l *fakeLink) Send(env domain.Envelope) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return signaling.ErrLinkClosed
	}
	l.sent = append(l.sent, env)
	l.mu.Unlock()
	l.sentCh <- env
	return nil
}

func (l *fakeLink) Receive() <-chan domain.Envelope {
	return l.incoming
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.once.Do(func() { close(l.incoming) })
	return nil
}

func (l *fakeLink) push(env domain.Envelope) {
	l.incoming <- env
}

func (l *fakeLink) sentOfKind(kind domain.EnvelopeKind) []domain.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Envelope
	for _, env := range l.sent {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

type fakeFactory struct {
	mu         sync.Mutex
	err        error
	transports []*fakeTransport

	// holdGathering leaves the gathering signal unfired so tests can
	// exercise the bounded wait.
	holdGathering bool
}

func (f *fakeFactory) New() (transport.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	tr := newFakeTransport()
	tr.holdGathering = f.holdGathering
	f.transports = append(f.transports, tr)
	return tr, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

func (f *fakeFactory) transport(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[i]
}

type fakeTransport struct {
	mu           sync.Mutex
	offerCount   int
	restartCount int
	answerCount  int
	localDesc    *webrtc.SessionDescription
	remoteDesc   *webrtc.SessionDescription
	candidates   []webrtc.ICECandidateInit
	candidateErr error
	senders      map[webrtc.RTPCodecType]webrtc.TrackLocal
	closeCount   int

	holdGathering bool

	onCandidate func(webrtc.ICECandidateInit)
	onGathered  func()
	onConnState func(domain.ConnState)
	onICEState  func(domain.ConnState)
	onTrack     func(*webrtc.TrackRemote)
}

var _ transport.Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		senders: make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
	}
}

func (t *fakeTransport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offerCount++
	if iceRestart {
		t.restartCount++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (t *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answerCount++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (t *fakeTransport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	t.mu.Lock()
	t.localDesc = &sdp
	gathered := t.onGathered
	hold := t.holdGathering
	t.mu.Unlock()

	// Gathering completes immediately in the fake, but asynchronously like
	// the real engine.
	if gathered != nil && !hold {
		go gathered()
	}
	return nil
}

func (t *fakeTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteDesc = &sdp
	return nil
}

func (t *fakeTransport) LocalDescription() *webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localDesc
}

func (t *fakeTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.candidateErr != nil {
		return t.candidateErr
	}
	t.candidates = append(t.candidates, candidate)
	return nil
}

func (t *fakeTransport) EnsureTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.senders[track.Kind()] = track
	return nil
}

func (t *fakeTransport) ClearTracks() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.senders = make(map[webrtc.RTPCodecType]webrtc.TrackLocal)
	return nil
}

func (t *fakeTransport) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCandidate = f
}

func (t *fakeTransport) OnGatheringComplete(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onGathered = f
}

func (t *fakeTransport) OnConnectionStateChange(f func(domain.ConnState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnState = f
}

func (t *fakeTransport) OnICEConnectionStateChange(f func(domain.ConnState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onICEState = f
}

func (t *fakeTransport) OnTrack(f func(*webrtc.TrackRemote)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTrack = f
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCount++
	return nil
}

func (t *fakeTransport) fireConnState(state domain.ConnState) {
	t.mu.Lock()
	handler := t.onConnState
	t.mu.Unlock()
	if handler != nil {
		handler(state)
	}
}

func (t *fakeTransport) offers() (total, restarts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offerCount, t.restartCount
}

func (t *fakeTransport) appliedCandidates() []webrtc.ICECandidateInit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(t.candidates))
	copy(out, t.candidates)
	return out
}

func (t *fakeTransport) senderTrack(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.senders[kind]
}

func (t *fakeTransport) senderCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.senders)
}

type fakeCapture struct {
	mu       sync.Mutex
	acquired int
	stopped  int
}

func (c *fakeCapture) Acquire(_ context.Context, kind domain.StreamKind) (*media.Stream, error) {
	c.mu.Lock()
	c.acquired++
	c.mu.Unlock()

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", string(kind))
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", string(kind))
	if err != nil {
		return nil, err
	}

	stop := func() {
		c.mu.Lock()
		c.stopped++
		c.mu.Unlock()
	}
	return media.NewStream(kind, []webrtc.TrackLocal{audio, video}, stop), nil
}
