package runner

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"gtfs-segments/internal/config"
)

// cronLogger routes cron's own messages through zap.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Schedule runs every feed immediately and then on each tick of spec (a
// standard five-field cron expression or descriptor such as "@hourly") until
// ctx is done. Ticks that arrive while a run is still going are skipped.
func (r *Runner) Schedule(ctx context.Context, spec string, feeds []config.Feed) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	run := func() {
		ran, err := r.TryRunAll(ctx, feeds)
		if !ran {
			r.logger.Warn("previous run still in progress, skipping tick")
			return
		}
		if err != nil {
			r.logger.Error("scheduled run had failures", zap.Error(err))
		}
	}

	c := cron.New(cron.WithLogger(cronLogger{r.logger.Sugar()}))
	if _, err := c.AddFunc(spec, run); err != nil {
		return err
	}
	c.Start()
	r.logger.Info("schedule started", zap.String("schedule", spec))

	run()

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("schedule stopped")
	return nil
}
