package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"prompt-relay/internal/storage"
)

type memRecorder struct {
	events []storage.Event
	err    error
}

func (m *memRecorder) AppendInteraction(ev storage.Event) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *memRecorder) LoadInteractions() ([]storage.Event, error) { return m.events, m.err }

type countingSweeper struct{ calls int }

func (c *countingSweeper) Sweep() int {
	c.calls++
	return 3
}

func TestAddJob(t *testing.T) {
	s := New()
	if s.IsRunning() {
		t.Fatalf("fresh scheduler has no jobs")
	}
	if err := s.AddJob("not a spec", "bad", func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error for invalid spec")
	}
	if err := s.AddJob("@every 1m", "sweep", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("add job: %v", err)
	}
	if !s.IsRunning() {
		t.Fatalf("job not registered")
	}
}

func TestRunStopsWithContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
	if s.ctx.Err() == nil {
		t.Fatalf("job context not cancelled")
	}
}

func TestDailyReport(t *testing.T) {
	day := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)
	rec := &memRecorder{}
	_ = rec.AppendInteraction(storage.Event{Timestamp: day.Add(-time.Hour), UserID: 1, ChatID: 1, Prompt: "q", Status: "answered"})
	_ = rec.AppendInteraction(storage.Event{Timestamp: day.Add(-48 * time.Hour), UserID: 2, ChatID: 1, Prompt: "old", Status: "answered"})

	var sent string
	job := DailyReport(rec, func() time.Time { return day }, func(_ context.Context, text string) error {
		sent = text
		return nil
	})
	if err := job(context.Background()); err != nil {
		t.Fatalf("job: %v", err)
	}
	if !strings.Contains(sent, "2024-03-01") || !strings.Contains(sent, "Prompts: 1 ") {
		t.Fatalf("unexpected report: %s", sent)
	}

	rec.err = errors.New("disk gone")
	if err := job(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestSweepJob(t *testing.T) {
	sw := &countingSweeper{}
	if err := SweepJob("limiter", sw)(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sw.calls != 1 {
		t.Fatalf("sweeper not called")
	}
}
