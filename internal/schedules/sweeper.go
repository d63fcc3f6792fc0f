package schedules

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Sweeper runs SweepOverdue on a fixed interval so that escalations and
// missed flips happen even when nobody reads the schedules.
type Sweeper struct {
	scheduler gocron.Scheduler
}

func NewSweeper(engine *Engine, every time.Duration) (*Sweeper, error) {
	if every <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", every)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func(ctx context.Context) {
			changed, err := engine.SweepOverdue(ctx)
			if err != nil {
				log.Printf("❌ Overdue sweep failed: %v", err)
				return
			}
			if changed > 0 {
				log.Printf("⏰ Overdue sweep updated %d schedule(s)", changed)
			}
		}),
		gocron.WithName("overdue-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		s.Shutdown()
		return nil, fmt.Errorf("failed to register overdue sweep: %w", err)
	}
	return &Sweeper{scheduler: s}, nil
}

func (s *Sweeper) Start() {
	s.scheduler.Start()
}

// Stop waits for a running sweep to finish
func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}
