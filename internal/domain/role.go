package domain

// Role is fixed at session start and decides who initiates offers:
// a broadcaster always offers toward a viewer, a viewer only answers.
type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
)

func (r Role) Valid() bool {
	return r == RoleBroadcaster || r == RoleViewer
}

// Offers reports whether this role is the offering side toward the remote role.
func (r Role) Offers(remote Role) bool {
	return r == RoleBroadcaster && remote == RoleViewer
}

// ConnState is the transport connection state as the orchestrator sees it.
type ConnState string

const (
	ConnStateNew          ConnState = "new"
	ConnStateConnecting   ConnState = "connecting"
	ConnStateConnected    ConnState = "connected"
	ConnStateDisconnected ConnState = "disconnected"
	ConnStateFailed       ConnState = "failed"
	ConnStateClosed       ConnState = "closed"
)

// StreamKind is the kind of local capture stream being published.
type StreamKind string

const (
	StreamCamera StreamKind = "camera"
	StreamScreen StreamKind = "screen"
)
