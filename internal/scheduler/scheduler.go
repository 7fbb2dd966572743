package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
)

// Expirer is the slice of the attempt controller the sweeper needs.
type Expirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// Scheduler runs the periodic expiry sweep. Live watchdogs normally fire
// first; the sweep catches timed attempts whose watchdog died with a
// previous process.
type Scheduler struct {
	scheduler *gocron.Scheduler
	expirer   Expirer
	interval  time.Duration
}

func New(expirer Expirer, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		expirer:   expirer,
		interval:  interval,
	}
}

// Start begins the sweep without blocking.
func (s *Scheduler) Start() {
	if _, err := s.scheduler.Every(s.interval).Do(s.sweep); err != nil {
		log.Printf("scheduler: register sweep: %v", err)
		return
	}
	s.scheduler.StartAsync()
}

func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := s.expirer.ExpireOverdue(ctx)
	if err != nil {
		log.Printf("scheduler: expiry sweep: %v", err)
		return
	}
	if n > 0 {
		log.Printf("scheduler: force-expired %d overdue attempt(s)", n)
	}
}
