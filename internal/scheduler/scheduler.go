package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrShutdownTimeout is returned by Stop when an in-flight run does not
// terminate within the shutdown grace period.
var ErrShutdownTimeout = errors.New("shutdown grace period exceeded")

// DefaultShutdownGrace bounds Stop when the caller supplies none.
const DefaultShutdownGrace = 10 * time.Second

// Options configures a Scheduler.
// Exactly one invocation is in flight at a time: a tick that finds the
// previous run still going is skipped, never queued and never coalesced.
type Options struct {
	Every         time.Duration // fixed cadence; ignored when CronExpr is set
	CronExpr      string        // cron expression (robfig syntax), optional
	RunOnStart    bool          // fire once immediately instead of waiting a full period
	ShutdownGrace time.Duration // bound on Stop waiting for the in-flight run

	// Run executes one invocation and blocks until it is terminal. The
	// context is cancelled when the scheduler stops. seq is 1-based and
	// increments per started invocation; skipped ticks consume no seq.
	Run func(ctx context.Context, seq int)

	// OnSkip is called for every skipped tick. Optional.
	OnSkip func()
	// OnNext reports the next planned fire time. Optional.
	OnNext func(time.Time)
}

// Scheduler drives periodic invocations of a single worker.
type Scheduler struct {
	every    time.Duration
	schedule cron.Schedule
	runStart bool
	grace    time.Duration

	run    func(ctx context.Context, seq int)
	onSkip func()
	onNext func(time.Time)

	busy      atomic.Bool
	seq       int // owned by the loop goroutine
	wg        sync.WaitGroup
	runCtx    context.Context
	runCancel context.CancelFunc
	quit      chan struct{}
	done      chan struct{}
}

func New(opts Options) (*Scheduler, error) {
	if opts.Run == nil {
		return nil, errors.New("scheduler requires a run function")
	}
	s := &Scheduler{
		every:    opts.Every,
		runStart: opts.RunOnStart,
		grace:    opts.ShutdownGrace,
		run:      opts.Run,
		onSkip:   opts.OnSkip,
		onNext:   opts.OnNext,
	}
	if s.grace <= 0 {
		s.grace = DefaultShutdownGrace
	}
	if opts.CronExpr != "" {
		sched, err := cron.ParseStandard(opts.CronExpr)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", opts.CronExpr, err)
		}
		s.schedule = sched
	} else if opts.Every <= 0 {
		return nil, errors.New("scheduler interval must be > 0")
	}
	return s, nil
}

// Start launches the scheduling loop. Call Stop to cancel.
func (s *Scheduler) Start() error {
	if s.quit != nil {
		return errors.New("scheduler already started")
	}
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	go s.loop()
	return nil
}

func (s *Scheduler) loop() {
	defer close(s.done)
	if s.runStart {
		s.fire()
	}
	if s.schedule != nil {
		s.cronLoop()
		return
	}
	s.tickerLoop()
}

func (s *Scheduler) tickerLoop() {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	s.notifyNext(time.Now().Add(s.every))
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.fire()
			s.notifyNext(time.Now().Add(s.every))
		}
	}
}

func (s *Scheduler) cronLoop() {
	for {
		next := s.schedule.Next(time.Now())
		s.notifyNext(next)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.quit:
			timer.Stop()
			return
		case <-timer.C:
			s.fire()
		}
	}
}

// fire starts an invocation unless one is already in flight. The run
// executes in its own goroutine so the loop keeps observing ticks;
// that is what makes skips observable.
func (s *Scheduler) fire() {
	if !s.busy.CompareAndSwap(false, true) {
		slog.Warn("previous run still in flight, skipping tick")
		if s.onSkip != nil {
			s.onSkip()
		}
		return
	}
	s.seq++
	seq := s.seq
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		s.run(s.runCtx, seq)
	}()
}

func (s *Scheduler) notifyNext(at time.Time) {
	if s.onNext != nil {
		s.onNext(at)
	}
}

// Stop cancels the tick wait immediately, requests termination of any
// in-flight run and waits at most the shutdown grace for it to clear.
func (s *Scheduler) Stop() error {
	if s.quit == nil {
		return nil
	}
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	<-s.done
	s.runCancel()

	cleared := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(cleared)
	}()
	select {
	case <-cleared:
		return nil
	case <-time.After(s.grace):
		return ErrShutdownTimeout
	}
}
