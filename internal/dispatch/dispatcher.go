// Package dispatch demultiplexes inbound envelopes to their handlers. It is
// the single entry point for all connection traffic, native socket and REST
// bridge alike.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/blacknout/nomada-backend-sub000/internal/identity"
	"github.com/blacknout/nomada-backend-sub000/internal/ridestop"
	"github.com/blacknout/nomada-backend-sub000/internal/wire"
	"github.com/blacknout/nomada-backend-sub000/pkg/hub"
)

type handlerFunc func(ctx context.Context, sender identity.Identity, connID uuid.UUID, env *wire.Envelope) error

// Dispatcher routes envelopes by declared type through a fixed handler table.
// The table is built once at construction; the set of types is closed.
type Dispatcher struct {
	hub      *hub.Hub
	stops    *ridestop.Coordinator
	handlers map[string]handlerFunc
	logger   *slog.Logger
}

func New(h *hub.Hub, stops *ridestop.Coordinator, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		hub:    h,
		stops:  stops,
		logger: logger.With(slog.String("component", "dispatcher")),
	}
	d.handlers = map[string]handlerFunc{
		wire.TypeDirectMessage:      d.handleDirectMessage,
		wire.TypeGroupMessage:       d.handleGroupMessage,
		wire.TypeRideUpdate:         d.handleRideUpdate,
		wire.TypeRideStop:           d.handleRideStop,
		wire.TypeNotificationUpdate: d.handleNotificationUpdate,
	}
	return d
}

// Dispatch decodes one inbound envelope and invokes its handler. One
// malformed or unknown message must not terminate an otherwise-healthy
// session, so every failure is logged and absorbed here.
func (d *Dispatcher) Dispatch(ctx context.Context, sender identity.Identity, connID uuid.UUID, raw []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Salvage the declared type for the log line if the JSON allows it.
		declared := gjson.GetBytes(raw, "type").String()
		d.logger.Warn("Dropped malformed envelope",
			slog.String("connID", connID.String()),
			slog.String("declaredType", declared),
			slog.Any("error", err),
		)
		return
	}

	handler, ok := d.handlers[env.Type]
	if !ok {
		d.logger.Warn("Dropped envelope with unknown type",
			slog.String("connID", connID.String()),
			slog.String("type", env.Type),
		)
		return
	}

	if err := handler(ctx, sender, connID, &env); err != nil {
		d.logger.Error("Handler failed",
			slog.String("type", env.Type),
			slog.String("connID", connID.String()),
			slog.Any("error", err),
		)
	}
}

// send re-marshals an outbound envelope and fans it out. fromUserId is always
// stamped from the authenticated sender, never trusted from client input.
func (d *Dispatcher) send(room hub.Room, env *wire.Envelope, sender identity.Identity, exclude uuid.UUID) error {
	out := wire.Envelope{
		Type:       env.Type,
		Target:     env.Target,
		Payload:    env.Payload,
		FromUserID: sender.ID,
	}
	msg, err := json.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal outbound envelope: %w", err)
	}
	d.hub.Broadcast(room, msg, exclude)
	return nil
}

func (d *Dispatcher) handleDirectMessage(_ context.Context, sender identity.Identity, _ uuid.UUID, env *wire.Envelope) error {
	// Delivered to every device of the recipient, including any the sender
	// owns if they message themselves.
	return d.send(hub.UserRoom(env.Target), env, sender, uuid.Nil)
}

func (d *Dispatcher) handleGroupMessage(_ context.Context, sender identity.Identity, connID uuid.UUID, env *wire.Envelope) error {
	return d.send(hub.GroupRoom(env.Target), env, sender, connID)
}

// rideTelemetry is the narrowed shape rebroadcast for ride-update. The wire
// format accepted from clients is wider than what goes back out; unrecognized
// client-supplied fields never reach other participants.
type rideTelemetry struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Heading   float64 `json:"heading"`
	Speed     float64 `json:"speed"`
}

func (d *Dispatcher) handleRideUpdate(_ context.Context, sender identity.Identity, connID uuid.UUID, env *wire.Envelope) error {
	var telemetry rideTelemetry
	if err := json.Unmarshal(env.Payload, &telemetry); err != nil {
		return fmt.Errorf("malformed ride-update payload: %w", err)
	}
	narrowed, err := json.Marshal(&telemetry)
	if err != nil {
		return fmt.Errorf("marshal ride telemetry: %w", err)
	}
	out := *env
	out.Payload = narrowed
	return d.send(hub.RideRoom(env.Target), &out, sender, connID)
}

func (d *Dispatcher) handleRideStop(ctx context.Context, sender identity.Identity, _ uuid.UUID, env *wire.Envelope) error {
	return d.stops.Handle(ctx, sender, env.Target, env.Payload)
}

func (d *Dispatcher) handleNotificationUpdate(_ context.Context, sender identity.Identity, _ uuid.UUID, env *wire.Envelope) error {
	return d.send(hub.UserRoom(env.Target), env, sender, uuid.Nil)
}
