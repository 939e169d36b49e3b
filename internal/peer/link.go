package peer

// LinkState is the lifecycle of the connection to one remote participant.
// A participant with no link is Idle.
type LinkState int

const (
	StateIdle LinkState = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type link struct {
	remoteID  string
	initiator bool
	session   Session
	state     LinkState

	remoteTracks []RemoteTrack
	// outgoing video currently carried on this link
	video Track
}

// LinkInfo is a read-only view of a link
type LinkInfo struct {
	RemoteID      string
	Initiator     bool
	State         LinkState
	RemoteTracks  []RemoteTrack
	OutgoingVideo string
}

func (l *link) info() LinkInfo {
	info := LinkInfo{
		RemoteID:     l.remoteID,
		Initiator:    l.initiator,
		State:        l.state,
		RemoteTracks: append([]RemoteTrack(nil), l.remoteTracks...),
	}
	if l.video != nil {
		info.OutgoingVideo = l.video.ID()
	}
	return info
}
