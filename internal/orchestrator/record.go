package orchestrator

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/avelichka/streamcast/internal/domain"
	"github.com/avelichka/streamcast/internal/transport"
)

// connectionRecord is the orchestrator's per-peer state. At most one record
// exists per peer identity; re-contact with a known peer reuses its record
// (that is the renegotiation path), it never duplicates it.
//
// All mutation happens under mu. Suspension points (gathering waits, backoff
// sleeps) release mu first so one peer never blocks another.
type connectionRecord struct {
	mu sync.Mutex

	peerID     string
	remoteRole domain.Role

	tr            transport.Transport
	remoteDescSet bool

	// pending holds remote candidates that arrived before the remote
	// description. Flushed in arrival order exactly once the description
	// is applied.
	pending []webrtc.ICECandidateInit

	retryCount  int
	lastRetryAt time.Time
	isRetrying  bool

	connState domain.ConnState
	iceState  domain.ConnState

	gatherDone chan struct{}

	closed bool
}

func newConnectionRecord(peerID string, remoteRole domain.Role) *connectionRecord {
	return &connectionRecord{
		peerID:     peerID,
		remoteRole: remoteRole,
		connState:  domain.ConnStateNew,
		iceState:   domain.ConnStateNew,
	}
}

// newGatherSignal arms a fresh gathering-complete signal for the next
// offer/answer cycle. Caller holds mu.
func (r *connectionRecord) newGatherSignal() chan struct{} {
	r.gatherDone = make(chan struct{})
	return r.gatherDone
}

// signalGathered fires the armed gathering signal, if any.
func (r *connectionRecord) signalGathered() {
	r.mu.Lock()
	done := r.gatherDone
	r.gatherDone = nil
	r.mu.Unlock()

	if done != nil {
		close(done)
	}
}

// close marks the record dead and hands back the transport for closing.
// Pending candidates are discarded atomically with the transport release, so
// an in-flight recovery attempt observes a closed record instead of a
// half-torn-down one.
func (r *connectionRecord) close() transport.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.pending = nil
	tr := r.tr
	r.tr = nil
	return tr
}
