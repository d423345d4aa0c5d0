package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Locker guards a sweep so only one replica runs it at a time.
type Locker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (bool, func(), error)
}

const sweepLockKey int64 = 0x73747564696f // "studio"

// Sweeper retries calendar and email side effects for confirmed bookings
// that a crashed or failed confirmation left behind.
type Sweeper struct {
	store  Store
	rec    *Reconciler
	locker Locker
	logger *slog.Logger
	batch  int
}

func NewSweeper(store Store, rec *Reconciler, locker Locker, logger *slog.Logger, batch int) *Sweeper {
	if batch <= 0 {
		batch = 50
	}
	return &Sweeper{store: store, rec: rec, locker: locker, logger: logger, batch: batch}
}

// RunOnce processes one batch and returns how many bookings it touched.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		locked, release, err := s.locker.TryAdvisoryLock(ctx, sweepLockKey)
		if err != nil {
			return 0, err
		}
		if !locked {
			return 0, nil
		}
		defer release()
	}

	ids, err := s.store.ListPendingSideEffects(ctx, s.batch)
	if err != nil {
		return 0, err
	}
	done := 0
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		res, err := s.rec.Recover(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(res.Warnings) == 0 {
			done++
		}
	}
	if len(ids) > 0 {
		s.logger.Info("side effect sweep finished", "candidates", len(ids), "completed", done)
	}
	return done, errors.Join(errs...)
}

// Schedule registers the sweep on c. Overlapping runs are skipped.
func (s *Sweeper) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	job := cron.FuncJob(func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Warn("side effect sweep failed", "err", err)
		}
	})
	return c.AddJob(spec, cron.NewChain(cron.SkipIfStillRunning(CronLogger(s.logger))).Then(job))
}

type cronLogger struct{ logger *slog.Logger }

// CronLogger adapts slog to cron.Logger.
func CronLogger(l *slog.Logger) cron.Logger { return cronLogger{logger: l} }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error(msg, append(keysAndValues, "err", err)...)
}
