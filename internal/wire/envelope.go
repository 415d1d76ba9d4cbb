// Package wire defines the envelope exchanged over connections in both
// directions. REST-bridged and socket-native traffic share this one shape.
package wire

import "encoding/json"

// Known envelope types. This is a closed set: the dispatcher's handler table
// is built from it and is not extensible at runtime.
const (
	TypeDirectMessage      = "direct-message"
	TypeGroupMessage       = "group-message"
	TypeRideUpdate         = "ride-update"
	TypeRideStop           = "ride-stop"
	TypeNotificationUpdate = "notification-update"
)

// Envelope is the typed message wrapper. Target semantics depend on Type: a
// recipient userId for direct-message and notification-update, a groupId for
// group-message, a rideId for ride-update and ride-stop.
type Envelope struct {
	Type       string          `json:"type"`
	Target     string          `json:"target"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	FromUserID string          `json:"fromUserId,omitempty"`
}
