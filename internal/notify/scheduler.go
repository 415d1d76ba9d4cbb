package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Scheduler fires push notifications later: either once after a delay
// ("10m", "1h30m") or on a cron expression ("0 8 * * *", "@daily"). Jobs are
// cancellable by the id Schedule returns. Delivery goes through the bridge,
// so a fired job with unreachable users is a quiet no-op.
type Scheduler struct {
	cron   *cron.Cron
	bridge *Bridge
	logger *slog.Logger

	mu       sync.Mutex
	cronJobs map[string]cron.EntryID
	timers   map[string]*time.Timer
}

func NewScheduler(bridge *Bridge, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		bridge:   bridge,
		logger:   logger.With(slog.String("component", "scheduler")),
		cronJobs: make(map[string]cron.EntryID),
		timers:   make(map[string]*time.Timer),
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron runner and cancels all pending one-shot timers.
func (s *Scheduler) Stop() {
	s.cron.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// Schedule registers a notification job for userIDs. A trigger that parses as
// a duration runs once after that delay; anything else is handed to cron as a
// recurring spec. Returns the cancellation id.
func (s *Scheduler) Schedule(userIDs []string, title, body, trigger string) (string, error) {
	id := uuid.NewString()
	targets := append([]string(nil), userIDs...)

	fire := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, userID := range targets {
			s.bridge.Notify(ctx, userID, title, body, map[string]string{"scheduleId": id})
		}
		s.logger.Info("Scheduled notification fired", slog.String("scheduleID", id), slog.Int("targets", len(targets)))
	}

	if delay, err := time.ParseDuration(trigger); err == nil {
		if delay <= 0 {
			return "", fmt.Errorf("trigger delay must be positive, got %q", trigger)
		}
		s.mu.Lock()
		s.timers[id] = time.AfterFunc(delay, func() {
			s.mu.Lock()
			delete(s.timers, id)
			s.mu.Unlock()
			fire()
		})
		s.mu.Unlock()
		return id, nil
	}

	entryID, err := s.cron.AddFunc(trigger, fire)
	if err != nil {
		return "", fmt.Errorf("invalid schedule trigger %q: %w", trigger, err)
	}
	s.mu.Lock()
	s.cronJobs[id] = entryID
	s.mu.Unlock()
	return id, nil
}

// Cancel removes a pending job. Cancelling an unknown or already-fired id is
// a no-op.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
		return
	}
	if entryID, ok := s.cronJobs[id]; ok {
		s.cron.Remove(entryID)
		delete(s.cronJobs, id)
	}
}
