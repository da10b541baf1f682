package job

import (
	"fmt"
	"time"

	"github.com/robfig/cron"
)

// Scheduler runs the periodic jobs on a cron.
type Scheduler struct {
	cron *cron.Cron
}

func NewScheduler(posts *PostSchedulerJob, sweepEvery time.Duration, tokens *TokenRefreshJob, refreshEvery time.Duration) (*Scheduler, error) {
	c := cron.New()
	if err := c.AddFunc(every(sweepEvery), posts.Sweep); err != nil {
		return nil, fmt.Errorf("failed to schedule post sweep: %w", err)
	}
	if err := c.AddFunc(every(refreshEvery), tokens.RefreshTokens); err != nil {
		return nil, fmt.Errorf("failed to schedule token refresh: %w", err)
	}
	return &Scheduler{cron: c}, nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}
