package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blacknout/nomada-backend-sub000/pkg/config"
)

func newExpoTestClient(endpoint string) *ExpoClient {
	return NewExpoClient(config.PushConfig{
		Endpoint:   endpoint,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
	}, newTestLogger())
}

func TestSendPushReturnsTickets(t *testing.T) {
	var received []expoMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(expoResponse{Data: []Ticket{{ID: "t-9", Status: "ok"}}})
	}))
	defer srv.Close()

	c := newExpoTestClient(srv.URL)
	tickets, err := c.SendPush(context.Background(), "tok-1", "title", "body", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("SendPush failed: %v", err)
	}
	if len(tickets) != 1 || tickets[0].ID != "t-9" {
		t.Fatalf("Unexpected tickets: %+v", tickets)
	}
	if len(received) != 1 || received[0].To != "tok-1" || received[0].Title != "title" {
		t.Errorf("Unexpected request payload: %+v", received)
	}
}

func TestSendPushRetriesTransientFailures(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(expoResponse{Data: []Ticket{{ID: "t-1", Status: "ok"}}})
	}))
	defer srv.Close()

	c := newExpoTestClient(srv.URL)
	tickets, err := c.SendPush(context.Background(), "tok", "t", "b", nil)
	if err != nil {
		t.Fatalf("SendPush should recover from a transient failure: %v", err)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Errorf("Expected exactly 2 attempts, got %d", attempts)
	}
	if len(tickets) != 1 {
		t.Errorf("Unexpected tickets: %+v", tickets)
	}
}

func TestSendPushDoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newExpoTestClient(srv.URL)
	if _, err := c.SendPush(context.Background(), "tok", "t", "b", nil); err == nil {
		t.Fatal("Expected error for rejected request")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("Client errors must not be retried, got %d attempts", attempts)
	}
}
