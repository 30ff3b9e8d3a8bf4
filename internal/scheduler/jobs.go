package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"prompt-relay/internal/analytics"
	"prompt-relay/internal/storage"
)

// DailyReport builds a job that summarizes today's events and hands the
// text to send.
func DailyReport(rec storage.Recorder, now func() time.Time, send func(ctx context.Context, text string) error) func(context.Context) error {
	return func(ctx context.Context) error {
		events, err := rec.LoadInteractions()
		if err != nil {
			return errors.Wrap(err, "load interactions")
		}
		stats := analytics.AnalyzeDailyLogs(events, now().UTC())
		log.Info().Str("date", stats.Date).Int("prompts", stats.TotalPrompts).Msg("daily report ready")
		return send(ctx, stats.GenerateReportSummary())
	}
}

// Sweeper is anything that drops stale in-memory state.
type Sweeper interface {
	Sweep() int
}

// SweepJob wraps s as a job that logs how much it dropped.
func SweepJob(name string, s Sweeper) func(context.Context) error {
	return func(context.Context) error {
		if n := s.Sweep(); n > 0 {
			log.Debug().Str("job", name).Int("dropped", n).Msg("swept stale entries")
		}
		return nil
	}
}
