package session

import "context"

// RoomResolver adapts Manager to notify.RoomResolver. The session
// layer (not the device layer) is the only place a user id is
// associated with a room, since devices.Device carries no user
// association.
type RoomResolver struct {
	mgr *Manager
}

// NewRoomResolver wires a RoomResolver over mgr.
func NewRoomResolver(mgr *Manager) RoomResolver {
	return RoomResolver{mgr: mgr}
}

// LastActiveRoom implements notify.RoomResolver.
func (r RoomResolver) LastActiveRoom(_ context.Context, userID string) (string, bool) {
	return r.mgr.LastActiveRoomForUser(userID)
}
