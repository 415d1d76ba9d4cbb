package hub

// Room is the canonical key of a broadcast group. Rooms have no lifetime of
// their own; one exists exactly as long as at least one connection is joined.
type Room string

const (
	userPrefix  = "user:"
	groupPrefix = "group:"
	ridePrefix  = "ride:"
)

// UserRoom derives the per-user room. Every connection is auto-joined to its
// own user room on admission.
func UserRoom(userID string) Room { return Room(userPrefix + userID) }

// GroupRoom derives the room shared by a riding group's members.
func GroupRoom(groupID string) Room { return Room(groupPrefix + groupID) }

// RideRoom derives the room shared by an active ride's participants.
func RideRoom(rideID string) Room { return Room(ridePrefix + rideID) }

func (r Room) String() string { return string(r) }
