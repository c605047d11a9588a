package domain

import "github.com/pion/webrtc/v3"

type EnvelopeKind string

const (
	KindJoinRoom            EnvelopeKind = "join-room"
	KindRoomUsers           EnvelopeKind = "room-users"
	KindUserJoined          EnvelopeKind = "user-joined"
	KindUserLeft            EnvelopeKind = "user-left"
	KindOffer               EnvelopeKind = "offer"
	KindAnswer              EnvelopeKind = "answer"
	KindICECandidate        EnvelopeKind = "ice-candidate"
	KindPeerConnectionState EnvelopeKind = "peer-connection-state"
	KindLeaveRoom           EnvelopeKind = "leave-room"
	KindStreamType          EnvelopeKind = "stream-type"
	KindError               EnvelopeKind = "error"
)

// Envelope is the addressed signaling message exchanged through the relay.
// Sender and Target are peer identities; Target is empty for broadcasts.
// Unknown kinds are tolerated on receive for forward compatibility.
type Envelope struct {
	Kind               EnvelopeKind               `json:"type"`
	Room               string                     `json:"room,omitempty"`
	Sender             string                     `json:"sender_id,omitempty"`
	Target             string                     `json:"target_id,omitempty"`
	Role               Role                       `json:"user_type,omitempty"`
	SDP                *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate          *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Peers              []PeerInfo                 `json:"peers,omitempty"`
	ConnectionState    ConnState                  `json:"connection_state,omitempty"`
	ICEConnectionState ConnState                  `json:"ice_connection_state,omitempty"`
	StreamType         StreamKind                 `json:"stream_type,omitempty"`
	Error              string                     `json:"error,omitempty"`
}

// PeerInfo is one roster entry of a room-users snapshot or a user-joined notice.
type PeerInfo struct {
	ID   string `json:"user_id"`
	Role Role   `json:"user_type"`
}
