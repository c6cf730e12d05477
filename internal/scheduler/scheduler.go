package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cptrack/internal/config"
	"cptrack/internal/cpsync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// HandleSource lists the handles refreshed by scheduled jobs.
type HandleSource interface {
	ListHandles(ctx context.Context) ([]string, error)
	ListHandlesByOrganization(ctx context.Context, org string) ([]string, error)
}

// Job is a periodic task outside the sync queue, such as a database backup.
type Job interface {
	Run(ctx context.Context)
}

// JobFunc adapts a plain function to Job.
type JobFunc func(ctx context.Context)

func (f JobFunc) Run(ctx context.Context) { f(ctx) }

// Scheduler enqueues refresh operations on cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	cfg    config.SchedulerConfig
	queue  cpsync.Enqueuer
	source HandleSource
	logger zerolog.Logger

	mu  sync.Mutex
	ctx context.Context
}

// New validates the cron expressions of cfg and registers the refresh jobs
// when cfg.Enabled is set.
func New(cfg config.SchedulerConfig, queue cpsync.Enqueuer, source HandleSource, logger *zerolog.Logger) (*Scheduler, error) {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "scheduler").Logger()
	}

	s := &Scheduler{
		cron:   cron.New(),
		cfg:    cfg,
		queue:  queue,
		source: source,
		logger: l,
		ctx:    context.Background(),
	}

	if !cfg.Enabled {
		return s, nil
	}
	if err := s.add("user_stats", cfg.UserStats, func(ctx context.Context) { s.EnqueueUserStats(ctx) }); err != nil {
		return nil, err
	}
	if err := s.add("leaderboard", cfg.Leaderboard, func(ctx context.Context) { s.EnqueueLeaderboards(ctx) }); err != nil {
		return nil, err
	}
	return s, nil
}

// AddJob runs job on the standard five-field cron expression expr.
func (s *Scheduler) AddJob(name, expr string, job Job) error {
	return s.add(name, expr, job.Run)
}

func (s *Scheduler) add(name, expr string, fn func(ctx context.Context)) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression for %s: %w", name, err)
	}
	_, err := s.cron.AddFunc(expr, func() {
		s.logger.Debug().Str("job", name).Msg("job triggered")
		fn(s.runContext())
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Start begins firing jobs; they receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop prevents new runs and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

// TrackedHandles merges stored handles with the configured seed handles,
// dropping case-insensitive duplicates.
func (s *Scheduler) TrackedHandles(ctx context.Context) ([]string, error) {
	stored, err := s.source.ListHandles(ctx)
	if err != nil {
		return nil, err
	}
	return dedupe(append(stored, s.cfg.SeedHandles...)), nil
}

// EnqueueUserStats enqueues a user stats refresh per tracked handle.
func (s *Scheduler) EnqueueUserStats(ctx context.Context) int {
	handles, err := s.TrackedHandles(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list tracked handles")
		return 0
	}
	for _, h := range handles {
		cpsync.SyncUserStats(s.queue, h)
	}
	s.logger.Info().Int("handles", len(handles)).Msg("user stats refresh enqueued")
	return len(handles)
}

// EnqueueLeaderboards enqueues a leaderboard rebuild per configured college
// that has at least one member.
func (s *Scheduler) EnqueueLeaderboards(ctx context.Context) int {
	n := 0
	for _, college := range s.cfg.Colleges {
		handles, err := s.source.ListHandlesByOrganization(ctx, college)
		if err != nil {
			s.logger.Error().Err(err).Str("college", college).Msg("failed to list college handles")
			continue
		}
		if len(handles) == 0 {
			continue
		}
		cpsync.SyncLeaderboard(s.queue, college, handles)
		n++
	}
	s.logger.Info().Int("colleges", n).Msg("leaderboard refresh enqueued")
	return n
}

func dedupe(handles []string) []string {
	seen := make(map[string]bool, len(handles))
	out := make([]string, 0, len(handles))
	for _, h := range handles {
		h = strings.TrimSpace(h)
		key := strings.ToLower(h)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h)
	}
	return out
}
