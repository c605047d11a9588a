package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/avelichka/streamcast/internal/domain"
	"github.com/avelichka/streamcast/internal/media"
	"github.com/avelichka/streamcast/internal/signaling"
	"github.com/avelichka/streamcast/internal/transport"
	"github.com/avelichka/streamcast/lib/logger/sl"
)

var (
	ErrAlreadyStarted       = errors.New("orchestrator already started")
	ErrSignalingUnavailable = errors.New("signaling unavailable")
)

const DefaultGatherTimeout = 5 * time.Second

// Config carries the orchestrator tunables. Zero values fall back to the
// defaults.
type Config struct {
	// GatherTimeout bounds the wait for ICE gathering before an offer or
	// answer is sent with whatever candidates exist so far.
	GatherTimeout time.Duration
	Recovery      RecoveryPolicy
}

// Orchestrator drives the signaling handshake per remote peer, buffers
// out-of-order candidates, and recovers failed connections without tearing
// down the session. It owns the authoritative peer-identity to record table;
// every operation is keyed by peer identity, so a slow or failing peer never
// blocks the others.
type Orchestrator struct {
	log     *slog.Logger
	link    signaling.Link
	factory transport.Factory
	media   *media.Controller
	events  Events
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	records map[string]*connectionRecord
	role    domain.Role
	localID string
	roomID  string
	started bool
	closed  bool
}

func New(link signaling.Link, factory transport.Factory, mediaCtl *media.Controller, events Events, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if events == nil {
		events = NopEvents{}
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = DefaultGatherTimeout
	}
	if cfg.Recovery.MaxAttempts <= 0 {
		cfg.Recovery.MaxAttempts = DefaultMaxRetryAttempts
	}
	if cfg.Recovery.BaseDelay <= 0 {
		cfg.Recovery.BaseDelay = DefaultRetryBaseDelay
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		log:     log,
		link:    link,
		factory: factory,
		media:   mediaCtl,
		events:  events,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		records: make(map[string]*connectionRecord),
	}
}

// Start joins the room and begins consuming signaling messages. It fails
// with ErrSignalingUnavailable when the relay cannot be reached and with
// ErrAlreadyStarted on a second call after a successful join.
func (o *Orchestrator) Start(ctx context.Context, role domain.Role, localID, roomID string) error {
	const op = "orchestrator.start"

	if !role.Valid() {
		return fmt.Errorf("%s: invalid role %q", op, role)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return fmt.Errorf("%s: orchestrator is shut down", op)
	}
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.role = role
	o.localID = localID
	o.roomID = roomID
	o.mu.Unlock()

	if err := o.link.Join(ctx, roomID, localID, role); err != nil {
		o.log.Error("failed to join room", slog.String("op", op), sl.Err(err))
		if errors.Is(err, signaling.ErrLinkUnavailable) {
			return fmt.Errorf("%w: %w", ErrSignalingUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	o.mu.Lock()
	o.started = true
	o.mu.Unlock()

	o.log.Info("joined room",
		slog.String("room_id", roomID),
		slog.String("peer_id", localID),
		slog.String("role", string(role)),
	)

	o.wg.Add(1)
	go o.readLoop()

	return nil
}

func (o *Orchestrator) readLoop() {
	defer o.wg.Done()

	for env := range o.link.Receive() {
		o.dispatch(env)
	}

	// Channel closed: either our own shutdown or a dropped link. A dropped
	// link leaves established media paths running; only signaling stops.
	o.mu.RLock()
	closed := o.closed
	o.mu.RUnlock()
	if !closed {
		o.log.Warn("signaling link lost, room is degraded",
			slog.String("room_id", o.roomID))
	}
}

// dispatch routes one inbound envelope. Unknown kinds are ignored so newer
// relays can add message types without breaking older peers.
func (o *Orchestrator) dispatch(env domain.Envelope) {
	if env.Sender == o.localID && env.Sender != "" {
		return
	}

	switch env.Kind {
	case domain.KindRoomUsers:
		for _, peer := range env.Peers {
			o.handlePeerJoined(peer)
		}
	case domain.KindUserJoined:
		o.handlePeerJoined(domain.PeerInfo{ID: env.Sender, Role: env.Role})
	case domain.KindUserLeft:
		o.handlePeerLeft(env.Sender)
	case domain.KindOffer:
		o.spawn(func() { o.handleOffer(env) })
	case domain.KindAnswer:
		o.handleAnswer(env)
	case domain.KindICECandidate:
		o.handleCandidate(env)
	case domain.KindPeerConnectionState:
		o.handlePeerState(env)
	case domain.KindError:
		o.log.Warn("relay rejected a signal", slog.String("reason", env.Error))
	default:
		o.log.Debug("ignoring unknown signal kind", slog.String("kind", string(env.Kind)))
	}
}

// handlePeerJoined schedules an offer toward a newly discovered viewer when
// the local side is the broadcaster. Viewers never initiate.
func (o *Orchestrator) handlePeerJoined(peer domain.PeerInfo) {
	if peer.ID == "" || peer.ID == o.localID {
		return
	}

	o.events.OnPeerJoined(peer)

	if !o.role.Offers(peer.Role) {
		return
	}

	o.log.Info("viewer joined, scheduling offer", slog.String("peer_id", peer.ID))
	o.spawn(func() { o.offerCycle(peer.ID, peer.Role, false) })
}

func (o *Orchestrator) handlePeerLeft(peerID string) {
	if peerID == "" {
		return
	}

	o.mu.Lock()
	rec, ok := o.records[peerID]
	delete(o.records, peerID)
	o.mu.Unlock()

	if ok {
		if tr := rec.close(); tr != nil {
			if err := tr.Close(); err != nil {
				o.log.Warn("closing transport failed", slog.String("peer_id", peerID), sl.Err(err))
			}
		}
	}

	o.log.Info("peer left", slog.String("peer_id", peerID))
	o.events.OnPeerLeft(peerID)
}

// offerCycle runs step one of the handshake: create or reuse the record,
// attach local tracks, produce a local offer, wait (bounded) for candidate
// gathering, then send the offer. With iceRestart set it is the recovery
// renegotiation path over the same record.
func (o *Orchestrator) offerCycle(peerID string, remoteRole domain.Role, iceRestart bool) {
	const op = "orchestrator.offer"
	log := o.log.With(slog.String("op", op), slog.String("peer_id", peerID))

	rec := o.ensureRecord(peerID, remoteRole)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	if rec.closed {
		rec.mu.Unlock()
		return
	}
	if err := o.ensureTransportLocked(rec); err != nil {
		rec.mu.Unlock()
		log.Error("transport setup failed", sl.Err(err))
		return
	}

	if stream := o.currentStream(); stream != nil {
		for _, track := range stream.Tracks() {
			if err := rec.tr.EnsureTrack(track); err != nil {
				log.Warn("attaching local track failed", sl.Err(err))
			}
		}
	}

	offer, err := rec.tr.CreateOffer(iceRestart)
	if err != nil {
		rec.mu.Unlock()
		log.Error("create offer failed", sl.Err(err))
		return
	}

	gathered := rec.newGatherSignal()
	if err := rec.tr.SetLocalDescription(offer); err != nil {
		rec.mu.Unlock()
		log.Error("set local description failed", sl.Err(err))
		return
	}
	tr := rec.tr
	rec.mu.Unlock()

	if !o.waitForGathering(gathered) {
		return
	}

	rec.mu.Lock()
	if rec.closed || rec.tr != tr {
		rec.mu.Unlock()
		return
	}
	sdp := tr.LocalDescription()
	if sdp == nil {
		sdp = &offer
	}
	rec.mu.Unlock()

	o.send(domain.Envelope{
		Kind:   domain.KindOffer,
		Target: peerID,
		SDP:    sdp,
	})
	log.Info("offer sent", slog.Bool("ice_restart", iceRestart))
}

// handleOffer runs the answer side of the handshake. An offer for a known
// peer reuses its record; that is how renegotiation and ICE restarts arrive.
func (o *Orchestrator) handleOffer(env domain.Envelope) {
	const op = "orchestrator.answer"
	log := o.log.With(slog.String("op", op), slog.String("peer_id", env.Sender))

	if env.Sender == "" || env.SDP == nil {
		log.Warn("dropping malformed offer")
		return
	}

	remoteRole := env.Role
	if remoteRole == "" {
		remoteRole = domain.RoleBroadcaster
	}

	rec := o.ensureRecord(env.Sender, remoteRole)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	if rec.closed {
		rec.mu.Unlock()
		return
	}
	if err := o.ensureTransportLocked(rec); err != nil {
		rec.mu.Unlock()
		log.Error("transport setup failed", sl.Err(err))
		return
	}

	if err := rec.tr.SetRemoteDescription(*env.SDP); err != nil {
		rec.mu.Unlock()
		log.Error("set remote description failed", sl.Err(err))
		return
	}
	rec.remoteDescSet = true
	o.flushCandidatesLocked(rec)

	answer, err := rec.tr.CreateAnswer()
	if err != nil {
		rec.mu.Unlock()
		log.Error("create answer failed", sl.Err(err))
		return
	}

	gathered := rec.newGatherSignal()
	if err := rec.tr.SetLocalDescription(answer); err != nil {
		rec.mu.Unlock()
		log.Error("set local description failed", sl.Err(err))
		return
	}
	tr := rec.tr
	rec.mu.Unlock()

	if !o.waitForGathering(gathered) {
		return
	}

	rec.mu.Lock()
	if rec.closed || rec.tr != tr {
		rec.mu.Unlock()
		return
	}
	sdp := tr.LocalDescription()
	if sdp == nil {
		sdp = &answer
	}
	rec.mu.Unlock()

	o.send(domain.Envelope{
		Kind:   domain.KindAnswer,
		Target: env.Sender,
		SDP:    sdp,
	})
	log.Info("answer sent")
}

// handleAnswer completes the offer side. An answer for an unknown peer is
// stale and dropped; it must not create a record.
func (o *Orchestrator) handleAnswer(env domain.Envelope) {
	const op = "orchestrator.apply-answer"
	log := o.log.With(slog.String("op", op), slog.String("peer_id", env.Sender))

	rec := o.lookupRecord(env.Sender)
	if rec == nil {
		log.Warn("dropping answer for unknown peer")
		return
	}
	if env.SDP == nil {
		log.Warn("dropping malformed answer")
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.closed || rec.tr == nil {
		log.Warn("dropping answer for closed connection")
		return
	}
	if err := rec.tr.SetRemoteDescription(*env.SDP); err != nil {
		log.Error("set remote description failed", sl.Err(err))
		return
	}
	rec.remoteDescSet = true
	o.flushCandidatesLocked(rec)
}

// handleCandidate applies a remote candidate, or buffers it while the remote
// description is still pending. Application failures are never fatal: the
// candidate is re-queued for the next flush.
func (o *Orchestrator) handleCandidate(env domain.Envelope) {
	if env.Sender == "" || env.Candidate == nil {
		return
	}

	rec := o.ensureRecord(env.Sender, env.Role)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.closed {
		return
	}
	if rec.tr == nil || !rec.remoteDescSet {
		rec.pending = append(rec.pending, *env.Candidate)
		return
	}
	if err := rec.tr.AddICECandidate(*env.Candidate); err != nil {
		o.log.Warn("applying candidate failed, re-queueing",
			slog.String("peer_id", env.Sender), sl.Err(err))
		rec.pending = append(rec.pending, *env.Candidate)
	}
}

// flushCandidatesLocked applies all buffered candidates in arrival order.
// Failed ones go back to the buffer, order preserved. Caller holds rec.mu.
func (o *Orchestrator) flushCandidatesLocked(rec *connectionRecord) {
	pending := rec.pending
	rec.pending = nil

	for _, candidate := range pending {
		if err := rec.tr.AddICECandidate(candidate); err != nil {
			o.log.Warn("flushing candidate failed, re-queueing",
				slog.String("peer_id", rec.peerID), sl.Err(err))
			rec.pending = append(rec.pending, candidate)
		}
	}
}

// handlePeerState consumes an advisory state report from the remote side.
// The broadcaster owns all offer initiation, so a viewer-side failure report
// triggers the same recovery path as a locally observed failure; this is how
// the broadcaster learns of failures its own transport has not seen yet.
func (o *Orchestrator) handlePeerState(env domain.Envelope) {
	if o.role != domain.RoleBroadcaster {
		return
	}
	if env.ConnectionState != domain.ConnStateFailed &&
		env.ConnectionState != domain.ConnStateDisconnected &&
		env.ICEConnectionState != domain.ConnStateFailed &&
		env.ICEConnectionState != domain.ConnStateDisconnected {
		return
	}

	rec := o.lookupRecord(env.Sender)
	if rec == nil {
		return
	}

	o.log.Info("remote peer reported degraded connection",
		slog.String("peer_id", env.Sender),
		slog.String("state", string(env.ConnectionState)),
		slog.String("ice_state", string(env.ICEConnectionState)),
	)
	o.maybeRecover(rec)
}

// handleTransportState reacts to local transport state transitions: resets
// retry counters on connect, announces the state to the relay, and invokes
// the recovery policy on failure.
func (o *Orchestrator) handleTransportState(peerID string, state domain.ConnState) {
	rec := o.lookupRecord(peerID)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	rec.connState = state
	iceState := rec.iceState
	if state == domain.ConnStateConnected {
		rec.retryCount = 0
		rec.isRetrying = false
	}
	rec.mu.Unlock()

	o.events.OnPeerStateChange(peerID, state)

	o.send(domain.Envelope{
		Kind:               domain.KindPeerConnectionState,
		Target:             peerID,
		ConnectionState:    state,
		ICEConnectionState: iceState,
	})

	switch state {
	case domain.ConnStateFailed:
		o.maybeRecover(rec)
	case domain.ConnStateDisconnected:
		// Only the broadcaster chases a disconnect; a viewer waits for the
		// broadcaster's restart offer.
		if o.role == domain.RoleBroadcaster {
			o.maybeRecover(rec)
		}
	}
}

// maybeRecover starts one backoff-gated ICE-restart attempt for the peer,
// unless one is already running or the retry budget is exhausted. Recovery is
// peer-scoped: attempts for different peers run independently.
func (o *Orchestrator) maybeRecover(rec *connectionRecord) {
	const op = "orchestrator.recover"
	now := time.Now()

	rec.mu.Lock()
	if rec.closed || rec.isRetrying {
		rec.mu.Unlock()
		return
	}
	if o.cfg.Recovery.Exhausted(rec.retryCount) {
		o.log.Error("connection permanently failed, retry budget exhausted",
			slog.String("op", op),
			slog.String("peer_id", rec.peerID),
			slog.Int("attempts", rec.retryCount),
		)
		rec.mu.Unlock()
		return
	}

	wait := o.cfg.Recovery.Wait(rec.retryCount, rec.lastRetryAt, now)
	rec.isRetrying = true
	rec.retryCount++
	attempt := rec.retryCount
	peerID := rec.peerID
	remoteRole := rec.remoteRole
	rec.mu.Unlock()

	o.log.Info("scheduling connection recovery",
		slog.String("peer_id", peerID),
		slog.Int("attempt", attempt),
		slog.Duration("wait", wait),
	)

	o.spawn(func() {
		defer func() {
			rec.mu.Lock()
			rec.isRetrying = false
			rec.mu.Unlock()
		}()

		select {
		case <-time.After(wait):
		case <-o.ctx.Done():
			return
		}

		rec.mu.Lock()
		rec.lastRetryAt = time.Now()
		closed := rec.closed
		rec.mu.Unlock()
		if closed {
			return
		}

		if o.role.Offers(remoteRole) {
			o.offerCycle(peerID, remoteRole, true)
		}
		// The non-offering side recovers passively: the restart offer
		// arrives through the normal handshake path.
	})
}

// SetLocalStream acquires a capture stream of the given kind and publishes
// its tracks to every live peer transport, replacing senders of the same
// kind rather than duplicating them.
func (o *Orchestrator) SetLocalStream(ctx context.Context, kind domain.StreamKind) error {
	stream, err := o.media.Acquire(ctx, kind)
	if err != nil {
		return err
	}
	o.publishStream(stream)
	return nil
}

// SwitchLocalStream swaps the capture kind and republishes in one pass, so
// peers never observe a state with both or neither stream attached.
func (o *Orchestrator) SwitchLocalStream(ctx context.Context, kind domain.StreamKind) error {
	stream, err := o.media.Switch(ctx, kind)
	if err != nil {
		return err
	}
	o.publishStream(stream)
	return nil
}

// ClearLocalStream stops the local stream and detaches its tracks from all
// peer transports.
func (o *Orchestrator) ClearLocalStream() {
	o.media.Release()

	for _, rec := range o.snapshotRecords() {
		rec.mu.Lock()
		if rec.tr != nil && !rec.closed {
			if err := rec.tr.ClearTracks(); err != nil {
				o.log.Warn("clearing tracks failed",
					slog.String("peer_id", rec.peerID), sl.Err(err))
			}
		}
		rec.mu.Unlock()
	}
}

func (o *Orchestrator) publishStream(stream *media.Stream) {
	for _, rec := range o.snapshotRecords() {
		rec.mu.Lock()
		if rec.tr != nil && !rec.closed {
			for _, track := range stream.Tracks() {
				if err := rec.tr.EnsureTrack(track); err != nil {
					o.log.Warn("replacing track failed",
						slog.String("peer_id", rec.peerID), sl.Err(err))
				}
			}
		}
		rec.mu.Unlock()
	}

	o.send(domain.Envelope{
		Kind:       domain.KindStreamType,
		StreamType: stream.Kind(),
	})
}

// Shutdown stops the local stream, closes every peer transport, leaves the
// room and closes the link. It may run concurrently with in-flight handshakes
// or recovery attempts and is a no-op when called again.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	records := make([]*connectionRecord, 0, len(o.records))
	for _, rec := range o.records {
		records = append(records, rec)
	}
	o.records = make(map[string]*connectionRecord)
	started := o.started
	roomID := o.roomID
	o.mu.Unlock()

	o.cancel()

	if o.media != nil {
		o.media.Release()
	}

	for _, rec := range records {
		if tr := rec.close(); tr != nil {
			if err := tr.Close(); err != nil {
				o.log.Warn("closing transport failed",
					slog.String("peer_id", rec.peerID), sl.Err(err))
			}
		}
	}

	if started {
		if err := o.link.Send(domain.Envelope{
			Kind:   domain.KindLeaveRoom,
			Room:   roomID,
			Sender: o.localID,
		}); err != nil && !errors.Is(err, signaling.ErrLinkClosed) {
			o.log.Debug("sending leave-room failed", sl.Err(err))
		}
	}
	if err := o.link.Close(); err != nil {
		o.log.Warn("closing signaling link failed", sl.Err(err))
	}

	o.wg.Wait()

	o.log.Info("orchestrator shut down", slog.String("room_id", roomID))
}

// ensureRecord returns the record for peerID, creating it on first contact.
// It returns nil after shutdown.
func (o *Orchestrator) ensureRecord(peerID string, remoteRole domain.Role) *connectionRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	if rec, ok := o.records[peerID]; ok {
		if rec.remoteRole == "" && remoteRole != "" {
			rec.remoteRole = remoteRole
		}
		return rec
	}

	rec := newConnectionRecord(peerID, remoteRole)
	o.records[peerID] = rec
	return rec
}

func (o *Orchestrator) lookupRecord(peerID string) *connectionRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.records[peerID]
}

func (o *Orchestrator) snapshotRecords() []*connectionRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()
	records := make([]*connectionRecord, 0, len(o.records))
	for _, rec := range o.records {
		records = append(records, rec)
	}
	return records
}

// ensureTransportLocked lazily creates the record's transport and wires its
// event handlers back into the orchestrator. Caller holds rec.mu.
func (o *Orchestrator) ensureTransportLocked(rec *connectionRecord) error {
	if rec.tr != nil {
		return nil
	}

	tr, err := o.factory.New()
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	peerID := rec.peerID

	tr.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		o.send(domain.Envelope{
			Kind:      domain.KindICECandidate,
			Target:    peerID,
			Candidate: &candidate,
		})
	})
	tr.OnGatheringComplete(rec.signalGathered)
	tr.OnConnectionStateChange(func(state domain.ConnState) {
		o.handleTransportState(peerID, state)
	})
	tr.OnICEConnectionStateChange(func(state domain.ConnState) {
		rec.mu.Lock()
		rec.iceState = state
		rec.mu.Unlock()
	})
	tr.OnTrack(func(track *webrtc.TrackRemote) {
		o.events.OnRemoteTrack(peerID, track)
	})

	rec.tr = tr
	return nil
}

// waitForGathering blocks until gathering completes, the configured bound
// passes, or shutdown begins. It reports whether the caller should proceed.
func (o *Orchestrator) waitForGathering(gathered <-chan struct{}) bool {
	timer := time.NewTimer(o.cfg.GatherTimeout)
	defer timer.Stop()

	select {
	case <-gathered:
		return true
	case <-timer.C:
		// Proceed with whatever candidates were gathered; trickle covers
		// the rest.
		return true
	case <-o.ctx.Done():
		return false
	}
}

func (o *Orchestrator) currentStream() *media.Stream {
	if o.media == nil {
		return nil
	}
	return o.media.Current()
}

func (o *Orchestrator) send(env domain.Envelope) {
	o.mu.RLock()
	env.Room = o.roomID
	env.Sender = o.localID
	closed := o.closed
	o.mu.RUnlock()

	if closed {
		return
	}
	if err := o.link.Send(env); err != nil {
		if errors.Is(err, signaling.ErrLinkClosed) {
			return
		}
		o.log.Warn("sending signal failed",
			slog.String("kind", string(env.Kind)),
			slog.String("target", env.Target),
			sl.Err(err),
		)
	}
}

func (o *Orchestrator) spawn(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}
