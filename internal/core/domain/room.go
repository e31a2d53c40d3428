package domain

import "time"

// Room is the relay's record of one hosted access code.
type Room struct {
	Code      AccessCode
	HostID    PeerID
	ViewerID  PeerID
	CreatedAt time.Time
	JoinedAt  time.Time
}

func (r *Room) HasViewer() bool {
	return r.ViewerID != ""
}

// RelayStats is a point-in-time view of the relay.
type RelayStats struct {
	ActiveRooms      int
	ConnectedViewers int
	Timestamp        time.Time
}
