package jobs

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"whatsapp-inbox/internal/metasync"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Syncer pulls the provider's accounts and templates into the database.
type Syncer interface {
	SyncFromMeta(ctx context.Context) metasync.SyncResult
}

// Scheduler runs the background jobs of the server process.
type Scheduler struct {
	sched   *cron.Cron
	syncer  Syncer
	timeout time.Duration
}

// NewScheduler registers the template sync job on schedule. An empty schedule
// leaves the scheduler without jobs.
func NewScheduler(schedule string, syncer Syncer, timeout time.Duration) (*Scheduler, error) {
	s := &Scheduler{
		sched:   cron.New(cron.WithLocation(time.UTC), cron.WithParser(cronParser)),
		syncer:  syncer,
		timeout: timeout,
	}
	if schedule == "" {
		zap.L().Info("Template sync schedule disabled")
		return s, nil
	}
	if _, err := s.sched.AddFunc(schedule, s.SchedTemplateSync); err != nil {
		return nil, errors.Wrapf(err, "invalid SYNC_SCHEDULE %q", schedule)
	}
	zap.L().Info("Template sync scheduled", zap.String("schedule", schedule))
	return s, nil
}

// Jobs reports how many jobs are registered.
func (s *Scheduler) Jobs() int {
	return len(s.sched.Entries())
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

// Stop waits for a running job to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.sched.Stop().Done():
	case <-ctx.Done():
	}
}

// SchedTemplateSync runs one reconciliation pass and logs its summary.
func (s *Scheduler) SchedTemplateSync() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Errorf("template sync panic: %v", err)
		}
	}()

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result := s.syncer.SyncFromMeta(ctx)
	zap.L().Info("Scheduled template sync finished",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("errors", len(result.Errors)),
	)
	for _, msg := range result.Errors {
		zap.L().Warn("Template sync error", zap.String("error", msg))
	}
}
