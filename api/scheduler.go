/*
scheduler.go - Automatic show conclusion

PURPOSE:
  Periodically closes shows whose start time is older than a grace
  period, so late sale reports are refused without a director having to
  conclude every show by hand. Payment and door validation keep working
  on concluded shows.

DESIGN:
  - One background goroutine with a configurable interval
  - Runs once immediately on Start
  - Each run concludes every active show that started before now - Grace
  - Errors are logged; the next tick retries

USAGE:
  c := NewShowConcluder(eng, log)
  c.Start()
  // ... later
  c.Stop()

SEE ALSO:
  - engine/shows.go: ConcludePastShows
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/ticket-engine/clock"
	"github.com/warp/ticket-engine/engine"
)

// ShowConcluder concludes past shows on a schedule.
type ShowConcluder struct {
	Engine   *engine.Engine
	Log      *zap.Logger
	Clock    clock.Clock
	Interval time.Duration
	Grace    time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewShowConcluder creates a concluder running every 15 minutes with a
// 6 hour grace period.
func NewShowConcluder(eng *engine.Engine, log *zap.Logger) *ShowConcluder {
	if log == nil {
		log = zap.NewNop()
	}
	return &ShowConcluder{
		Engine:   eng,
		Log:      log.Named("concluder"),
		Clock:    clock.NewSystem(),
		Interval: 15 * time.Minute,
		Grace:    6 * time.Hour,
		Enabled:  true,
	}
}

// Start begins the schedule.
func (c *ShowConcluder) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.Enabled {
		c.Log.Info("disabled, not starting")
		return
	}
	if c.ticker != nil {
		return
	}

	c.ticker = time.NewTicker(c.Interval)
	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.run()

	c.Log.Info("started", zap.Duration("interval", c.Interval), zap.Duration("grace", c.Grace))
}

// Stop halts the schedule and waits for a running pass to finish.
func (c *ShowConcluder) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	close(c.stop)
	c.wg.Wait()
	c.ticker = nil
	c.Log.Info("stopped")
}

func (c *ShowConcluder) run() {
	defer c.wg.Done()

	c.RunNow(context.Background())

	for {
		select {
		case <-c.ticker.C:
			c.RunNow(context.Background())
		case <-c.stop:
			return
		}
	}
}

// RunNow concludes due shows immediately and returns their ids.
func (c *ShowConcluder) RunNow(ctx context.Context) []engine.ShowID {
	cutoff := c.Clock.Now().Add(-c.Grace)
	done, err := c.Engine.ConcludePastShows(ctx, cutoff)
	if err != nil {
		c.Log.Error("conclude pass incomplete", zap.Time("cutoff", cutoff), zap.Int("concluded", len(done)), zap.Error(err))
	}
	if len(done) > 0 {
		ids := make([]string, len(done))
		for i, id := range done {
			ids[i] = string(id)
		}
		c.Log.Info("concluded shows", zap.Strings("shows", ids))
	}
	return done
}

// NextRunTime returns when the next scheduled pass will occur.
func (c *ShowConcluder) NextRunTime() time.Time {
	return c.Clock.Now().Add(c.Interval)
}
