package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"feebot/pkg/logx"
)

// Cycler runs one poll cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (Summary, error)
}

// Poller drives a Cycler on a fixed interval. Cycles never overlap: a tick
// that fires while a cycle is still running is skipped.
type Poller struct {
	cycler  Cycler
	timeout time.Duration
	log     logx.Logger

	mu       sync.Mutex
	c        *cron.Cron
	entry    cron.EntryID
	interval time.Duration
	job      cron.Job
	runCtx   context.Context
	cancel   context.CancelFunc
}

// NewPoller creates a poller. timeout bounds a single cycle; zero means no bound.
func NewPoller(cycler Cycler, interval, timeout time.Duration, log logx.Logger) *Poller {
	return &Poller{cycler: cycler, interval: interval, timeout: timeout, log: log}
}

// Start runs the first cycle immediately and then schedules the rest.
// Cycles are detached from ctx cancellation so an in-flight cycle can finish
// during Stop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c != nil {
		return nil
	}
	if p.interval < time.Second {
		return errors.New("poll interval must be at least 1s")
	}

	p.runCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	cl := cronLogger{log: p.log}
	p.c = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))
	p.job = cron.NewChain(cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(p.runOnce))

	p.job.Run()

	p.entry = p.c.Schedule(cron.Every(p.interval), p.job)
	p.c.Start()
	p.log.Info("poller started", logx.Duration("interval", p.interval))
	return nil
}

// Reschedule changes the interval of a running poller.
func (p *Poller) Reschedule(interval time.Duration) error {
	if interval < time.Second {
		return errors.New("poll interval must be at least 1s")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interval == interval {
		return nil
	}
	p.interval = interval
	if p.c == nil {
		return nil
	}
	p.c.Remove(p.entry)
	p.entry = p.c.Schedule(cron.Every(interval), p.job)
	p.log.Info("poll interval changed", logx.Duration("interval", interval))
	return nil
}

// Interval returns the current schedule interval.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Stop prevents new cycles and waits for the in-flight one. If ctx expires
// first the in-flight cycle is cancelled.
func (p *Poller) Stop(ctx context.Context) error {
	start := time.Now()
	p.mu.Lock()
	c, cancel := p.c, p.cancel
	p.c = nil
	p.mu.Unlock()
	if c == nil {
		return nil
	}
	defer cancel()

	select {
	case <-c.Stop().Done():
		p.log.Info("poller stopped", logx.Duration("took", time.Since(start)))
		return nil
	case <-ctx.Done():
		cancel()
		p.log.Warn("poller stop timed out; cycle cancelled")
		return ctx.Err()
	}
}

func (p *Poller) runOnce() {
	ctx := p.runCtx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	sum, err := p.cycler.RunCycle(ctx)
	if err != nil {
		p.log.Error("poll cycle failed", logx.Err(err), logx.Duration("dur", time.Since(start)))
		return
	}
	fields := []logx.Field{
		logx.Bool("baseline", sum.Baseline),
		logx.Int("checked", sum.Checked),
		logx.Int("matched", sum.Matched),
		logx.Int("sent", sum.Sent),
		logx.Int("skipped", sum.Skipped),
		logx.Int("failed", sum.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if sum.Matched > 0 {
		p.log.Info("poll cycle done", fields...)
	} else {
		p.log.Debug("poll cycle done", fields...)
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
