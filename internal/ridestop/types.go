package ridestop

import "time"

// Reason classifies why a rider stopped.
type Reason string

const (
	ReasonSafe       Reason = "safe"
	ReasonAccident   Reason = "accident"
	ReasonMechanical Reason = "mechanical"
	ReasonUnknown    Reason = "unknown"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonSafe, ReasonAccident, ReasonMechanical, ReasonUnknown:
		return true
	}
	return false
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   *string `json:"address,omitempty"`
}

// RideStop is a recorded pause event during an active ride. Only its creator
// may mutate it, and IsResolved moves false→true exactly once.
type RideStop struct {
	ID         string    `json:"id"`
	RideID     string    `json:"rideId"`
	UserID     string    `json:"userId"`
	Reason     Reason    `json:"reason"`
	Location   Location  `json:"location"`
	IsResolved bool      `json:"isResolved"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Command is the decoded ride-stop payload. Pointer fields express presence:
// on update, only fields the client actually sent are applied.
type Command struct {
	Action     string    `json:"action"`
	RideStopID string    `json:"rideStopId,omitempty"`
	Reason     *Reason   `json:"reason,omitempty"`
	Location   *Location `json:"location,omitempty"`
	IsResolved *bool     `json:"isResolved,omitempty"`
	SOS        bool      `json:"sos,omitempty"`
}

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// apply merges the command into the stop, field by field. Absent fields leave
// stored values untouched. Resolution is monotonic: a stop never un-resolves.
func (c *Command) apply(stop *RideStop) {
	if c.Reason != nil && c.Reason.Valid() {
		stop.Reason = *c.Reason
	}
	if c.Location != nil {
		stop.Location = *c.Location
	}
	if c.IsResolved != nil && *c.IsResolved {
		stop.IsResolved = true
	}
}

// SOSContact is a user's configured emergency contact. Either field may be
// empty; both may be set.
type SOSContact struct {
	UserID string
	Email  string
}
