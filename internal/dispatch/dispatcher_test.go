package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/blacknout/nomada-backend-sub000/internal/identity"
	"github.com/blacknout/nomada-backend-sub000/internal/ridestop"
	"github.com/blacknout/nomada-backend-sub000/internal/wire"
	"github.com/blacknout/nomada-backend-sub000/pkg/hub"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeSender struct {
	mu       sync.Mutex
	messages [][]byte
}

func (f *fakeSender) Send(message []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeSender) lastEnvelope(t *testing.T) wire.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		t.Fatal("Expected at least one delivered message")
	}
	var env wire.Envelope
	if err := json.Unmarshal(f.messages[len(f.messages)-1], &env); err != nil {
		t.Fatalf("Delivered message is not a valid envelope: %v", err)
	}
	return env
}

type memStore struct {
	stops map[string]*ridestop.RideStop
}

func (m *memStore) CreateStop(_ context.Context, stop *ridestop.RideStop) error {
	m.stops[stop.ID] = stop
	return nil
}

func (m *memStore) GetStop(_ context.Context, id string) (*ridestop.RideStop, error) {
	stop, ok := m.stops[id]
	if !ok {
		return nil, ridestop.ErrNotFound
	}
	return stop, nil
}

func (m *memStore) UpdateStop(_ context.Context, stop *ridestop.RideStop) error {
	m.stops[stop.ID] = stop
	return nil
}

func (m *memStore) DeleteStop(_ context.Context, id string) error {
	delete(m.stops, id)
	return nil
}

func (m *memStore) GetSOSContact(_ context.Context, _ string) (*ridestop.SOSContact, error) {
	return nil, ridestop.ErrNotFound
}

type nopPush struct{}

func (nopPush) Push(context.Context, string, string, string, map[string]string) {}

type nopEmail struct{}

func (nopEmail) Send(context.Context, string, string, string) error { return nil }

func newTestDispatcher() (*Dispatcher, *hub.Hub) {
	logger := newTestLogger()
	h := hub.New(logger)
	store := &memStore{stops: make(map[string]*ridestop.RideStop)}
	coord := ridestop.NewCoordinator(store, h, nopPush{}, nopEmail{}, logger)
	return New(h, coord, logger), h
}

func TestRideUpdateNarrowsPayloadAndExcludesSender(t *testing.T) {
	d, h := newTestDispatcher()
	connA, connB := uuid.New(), uuid.New()
	devA, devB := &fakeSender{}, &fakeSender{}
	h.Admit(connA, "u1", devA)
	h.Admit(connB, "u2", devB)
	h.Rooms.Join(connA, hub.RideRoom("r1"))
	h.Rooms.Join(connB, hub.RideRoom("r1"))

	raw := []byte(`{"type":"ride-update","target":"r1","payload":{"latitude":1,"longitude":2,"heading":90,"speed":5,"secret":"leak-me"}}`)
	d.Dispatch(context.Background(), identity.Identity{ID: "u1"}, connA, raw)

	if devA.count() != 0 {
		t.Error("Sender must not receive its own ride-update")
	}
	env := devB.lastEnvelope(t)
	if env.Type != wire.TypeRideUpdate || env.FromUserID != "u1" {
		t.Errorf("Unexpected envelope header: %+v", env)
	}

	var payload map[string]any
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("Payload decode failed: %v", err)
	}
	if _, leaked := payload["secret"]; leaked {
		t.Error("Unrecognized client fields must be stripped before rebroadcast")
	}
	want := map[string]float64{"latitude": 1, "longitude": 2, "heading": 90, "speed": 5}
	for key, expected := range want {
		got, ok := payload[key].(float64)
		if !ok || got != expected {
			t.Errorf("Expected %s=%v, got %v", key, expected, payload[key])
		}
	}
	if len(payload) != len(want) {
		t.Errorf("Expected exactly %d fields, got %d", len(want), len(payload))
	}
}

func TestDirectMessageReachesEveryDeviceOfRecipient(t *testing.T) {
	d, h := newTestDispatcher()
	senderConn := uuid.New()
	h.Admit(senderConn, "u1", &fakeSender{})

	dev1, dev2 := &fakeSender{}, &fakeSender{}
	h.Admit(uuid.New(), "u2", dev1)
	h.Admit(uuid.New(), "u2", dev2)

	raw := []byte(`{"type":"direct-message","target":"u2","payload":{"text":"hi"},"fromUserId":"spoofed"}`)
	d.Dispatch(context.Background(), identity.Identity{ID: "u1"}, senderConn, raw)

	if dev1.count() != 1 || dev2.count() != 1 {
		t.Fatalf("Expected both devices to receive the message, got %d and %d", dev1.count(), dev2.count())
	}
	env := dev1.lastEnvelope(t)
	if env.FromUserID != "u1" {
		t.Errorf("fromUserId must be stamped from the authenticated sender, got %q", env.FromUserID)
	}
}

func TestGroupMessageExcludesSendingConnection(t *testing.T) {
	d, h := newTestDispatcher()
	connA, connB := uuid.New(), uuid.New()
	devA, devB := &fakeSender{}, &fakeSender{}
	h.Admit(connA, "u1", devA)
	h.Admit(connB, "u2", devB)
	h.Rooms.Join(connA, hub.GroupRoom("g1"))
	h.Rooms.Join(connB, hub.GroupRoom("g1"))

	raw := []byte(`{"type":"group-message","target":"g1","payload":{"text":"ride at 9"}}`)
	d.Dispatch(context.Background(), identity.Identity{ID: "u1"}, connA, raw)

	if devA.count() != 0 {
		t.Error("Sender connection must be excluded from group broadcast")
	}
	if devB.count() != 1 {
		t.Error("Other group member missed the broadcast")
	}
}

func TestNotificationUpdateTargetsUserRoom(t *testing.T) {
	d, h := newTestDispatcher()
	dev := &fakeSender{}
	h.Admit(uuid.New(), "u2", dev)

	raw := []byte(`{"type":"notification-update","target":"u2","payload":{"unread":3}}`)
	d.Dispatch(context.Background(), identity.Identity{ID: "system"}, uuid.Nil, raw)

	if dev.count() != 1 {
		t.Fatalf("Expected 1 delivery, got %d", dev.count())
	}
	if env := dev.lastEnvelope(t); env.Type != wire.TypeNotificationUpdate {
		t.Errorf("Unexpected type %s", env.Type)
	}
}

func TestRideStopFlowsThroughCoordinatorToRideRoom(t *testing.T) {
	d, h := newTestDispatcher()
	connA, connB := uuid.New(), uuid.New()
	devA, devB := &fakeSender{}, &fakeSender{}
	h.Admit(connA, "u1", devA)
	h.Admit(connB, "u2", devB)
	h.Rooms.Join(connA, hub.RideRoom("r1"))
	h.Rooms.Join(connB, hub.RideRoom("r1"))

	raw := []byte(`{"type":"ride-stop","target":"r1","payload":{"action":"create","reason":"mechanical","location":{"latitude":1,"longitude":2}}}`)
	d.Dispatch(context.Background(), identity.Identity{ID: "u1"}, connA, raw)

	// Ride-stop broadcasts include the acting rider's own devices.
	if devA.count() != 1 || devB.count() != 1 {
		t.Fatalf("Expected both participants to receive the stop event, got %d and %d", devA.count(), devB.count())
	}
	if env := devB.lastEnvelope(t); env.Type != wire.TypeRideStop || env.Target != "r1" {
		t.Errorf("Unexpected envelope: %+v", env)
	}
}

func TestUnknownTypeIsDroppedWithoutPanic(t *testing.T) {
	d, h := newTestDispatcher()
	dev := &fakeSender{}
	h.Admit(uuid.New(), "u1", dev)

	d.Dispatch(context.Background(), identity.Identity{ID: "u1"}, uuid.Nil, []byte(`{"type":"mystery","target":"u1","payload":{}}`))
	d.Dispatch(context.Background(), identity.Identity{ID: "u1"}, uuid.Nil, []byte(`not json at all`))

	if dev.count() != 0 {
		t.Error("Dropped messages must not be delivered anywhere")
	}
}
