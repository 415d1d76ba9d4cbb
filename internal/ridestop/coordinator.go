package ridestop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/blacknout/nomada-backend-sub000/internal/identity"
	"github.com/blacknout/nomada-backend-sub000/internal/wire"
	"github.com/blacknout/nomada-backend-sub000/pkg/hub"
)

// Broadcaster is the slice of the hub the coordinator needs. *hub.Hub
// satisfies it.
type Broadcaster interface {
	Broadcast(room hub.Room, message []byte, exclude uuid.UUID) int
}

// PushNotifier hands an SOS alert to the push-notification bridge. Failures
// stay inside the implementation; the coordinator never sees them.
type PushNotifier interface {
	Push(ctx context.Context, userID, title, body string, data map[string]string)
}

// EmailSender dispatches an SOS alert to a contact email address.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Coordinator drives the ride-stop lifecycle state machine and its SOS
// escalation side channel.
type Coordinator struct {
	store  Store
	rooms  Broadcaster
	push   PushNotifier
	email  EmailSender
	logger *slog.Logger
}

func NewCoordinator(store Store, rooms Broadcaster, push PushNotifier, email EmailSender, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		rooms:  rooms,
		push:   push,
		email:  email,
		logger: logger.With(slog.String("component", "ridestop_coordinator")),
	}
}

// stopEvent is what ride participants receive for every lifecycle transition.
type stopEvent struct {
	Action     string    `json:"action"`
	RideStop   *RideStop `json:"rideStop,omitempty"`
	RideStopID string    `json:"rideStopId,omitempty"`
}

// Handle processes one ride-stop command from sender on rideID. All outcomes
// except malformed input are absorbed here; missing records are no-ops by
// design.
func (c *Coordinator) Handle(ctx context.Context, sender identity.Identity, rideID string, payload json.RawMessage) error {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("malformed ride-stop payload: %w", err)
	}

	switch cmd.Action {
	case ActionCreate:
		return c.create(ctx, sender, rideID, &cmd)
	case ActionUpdate:
		return c.update(ctx, sender, rideID, &cmd)
	case ActionDelete:
		return c.delete(ctx, sender, rideID, &cmd)
	default:
		return fmt.Errorf("unknown ride-stop action %q", cmd.Action)
	}
}

func (c *Coordinator) create(ctx context.Context, sender identity.Identity, rideID string, cmd *Command) error {
	now := time.Now().UTC()
	stop := &RideStop{
		ID:        uuid.NewString(),
		RideID:    rideID,
		UserID:    sender.ID,
		Reason:    ReasonUnknown,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cmd.Reason != nil && cmd.Reason.Valid() {
		stop.Reason = *cmd.Reason
	}
	if cmd.Location != nil {
		stop.Location = *cmd.Location
	}
	if cmd.IsResolved != nil && *cmd.IsResolved {
		stop.IsResolved = true
	}

	if err := c.store.CreateStop(ctx, stop); err != nil {
		return fmt.Errorf("persist ride stop: %w", err)
	}

	// Escalation must never block or fail the broadcast.
	if cmd.SOS && stop.Reason != ReasonSafe {
		go c.escalate(sender, stop)
	}

	c.broadcastEvent(rideID, sender.ID, &stopEvent{Action: ActionCreate, RideStop: stop})
	return nil
}

func (c *Coordinator) update(ctx context.Context, sender identity.Identity, rideID string, cmd *Command) error {
	stop, err := c.store.GetStop(ctx, cmd.RideStopID)
	if errors.Is(err, ErrNotFound) {
		c.logger.Debug("Update for missing ride stop ignored", slog.String("rideStopID", cmd.RideStopID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load ride stop: %w", err)
	}
	if stop.UserID != sender.ID {
		c.logger.Warn("Rejected ride-stop update by non-creator",
			slog.String("rideStopID", stop.ID),
			slog.String("userID", sender.ID),
		)
		return nil
	}

	cmd.apply(stop)
	stop.UpdatedAt = time.Now().UTC()

	c.broadcastEvent(rideID, sender.ID, &stopEvent{Action: ActionUpdate, RideStop: stop})

	if err := c.store.UpdateStop(ctx, stop); err != nil {
		return fmt.Errorf("persist ride stop update: %w", err)
	}
	return nil
}

func (c *Coordinator) delete(ctx context.Context, sender identity.Identity, rideID string, cmd *Command) error {
	stop, err := c.store.GetStop(ctx, cmd.RideStopID)
	if errors.Is(err, ErrNotFound) {
		c.logger.Debug("Delete for missing ride stop ignored", slog.String("rideStopID", cmd.RideStopID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load ride stop: %w", err)
	}
	if stop.UserID != sender.ID {
		c.logger.Warn("Rejected ride-stop delete by non-creator",
			slog.String("rideStopID", stop.ID),
			slog.String("userID", sender.ID),
		)
		return nil
	}

	c.broadcastEvent(rideID, sender.ID, &stopEvent{Action: ActionDelete, RideStopID: stop.ID})

	if err := c.store.DeleteStop(ctx, stop.ID); err != nil {
		return fmt.Errorf("destroy ride stop: %w", err)
	}
	return nil
}

func (c *Coordinator) broadcastEvent(rideID, fromUserID string, event *stopEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("Failed to marshal ride-stop event", slog.Any("error", err))
		return
	}
	msg, err := json.Marshal(&wire.Envelope{
		Type:       wire.TypeRideStop,
		Target:     rideID,
		Payload:    payload,
		FromUserID: fromUserID,
	})
	if err != nil {
		c.logger.Error("Failed to marshal ride-stop envelope", slog.Any("error", err))
		return
	}
	c.rooms.Broadcast(hub.RideRoom(rideID), msg, uuid.Nil)
}

// escalate runs detached from the triggering connection: an SOS alert must go
// out even if the rider's socket drops right after the stop is created.
func (c *Coordinator) escalate(sender identity.Identity, stop *RideStop) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	contact, err := c.store.GetSOSContact(ctx, sender.ID)
	if errors.Is(err, ErrNotFound) {
		c.logger.Info("SOS triggered but no contact configured", slog.String("userID", sender.ID))
		return
	}
	if err != nil {
		c.logger.Error("SOS contact lookup failed", slog.String("userID", sender.ID), slog.Any("error", err))
		return
	}

	name := sender.DisplayName
	if name == "" {
		name = sender.ID
	}
	title := "SOS alert"
	body := fmt.Sprintf("%s needs help at (%f, %f)", name, stop.Location.Latitude, stop.Location.Longitude)
	if stop.Location.Address != nil && *stop.Location.Address != "" {
		body = fmt.Sprintf("%s needs help near %s", name, *stop.Location.Address)
	}

	if contact.UserID != "" {
		c.push.Push(ctx, contact.UserID, title, body, map[string]string{
			"rideId":     stop.RideID,
			"rideStopId": stop.ID,
			"reason":     string(stop.Reason),
		})
	}
	if contact.Email != "" {
		if err := c.email.Send(ctx, contact.Email, title, body); err != nil {
			c.logger.Error("SOS email delivery failed", slog.String("to", contact.Email), slog.Any("error", err))
		}
	}
}
