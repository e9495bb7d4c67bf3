package conversation

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// DefaultSweepSchedule runs the retention sweep every ten minutes.
const DefaultSweepSchedule = "*/10 * * * *"

// Sweeper evicts settled conversations older than a retention window.
type Sweeper struct {
	store    Store
	ttl      time.Duration
	schedule string
	out      io.Writer
	now      func() time.Time
}

// SweeperOpts holds parameters for creating a Sweeper.
type SweeperOpts struct {
	Store    Store
	TTL      time.Duration // required, > 0
	Schedule string        // 5-field cron expression; defaults to DefaultSweepSchedule
	Out      io.Writer     // defaults to os.Stdout
}

// NewSweeper creates a Sweeper and validates its schedule.
func NewSweeper(opts SweeperOpts) (*Sweeper, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("conversation: sweeper: store is required")
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("conversation: sweeper: ttl must be positive")
	}
	schedule := opts.Schedule
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("conversation: sweeper: parse schedule %q: %w", schedule, err)
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Sweeper{
		store:    opts.Store,
		ttl:      opts.TTL,
		schedule: schedule,
		out:      out,
		now:      time.Now,
	}, nil
}

// Sweep evicts once and returns the number of conversations removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.Evict(ctx, s.now().Add(-s.ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		fmt.Fprintf(s.out, "conversation: sweeper: evicted %d conversation(s) older than %s\n", n, s.ttl)
	}
	return n, nil
}

// Run schedules Sweep on the cron schedule and blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			log.Printf("conversation: sweeper: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("conversation: sweeper: schedule: %w", err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
