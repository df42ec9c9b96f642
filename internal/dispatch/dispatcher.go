// Package dispatch runs poll cycles: fetch the fee table, detect threshold
// crossings against the previous snapshot and deliver notifications.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"feebot/internal/fees"
	"feebot/internal/platform"
	"feebot/internal/storage"
	"feebot/pkg/logx"
)

var errNoAdapter = errors.New("no adapter registered")

// Source provides the latest fee table.
type Source interface {
	AllFees(ctx context.Context) (fees.Table, error)
}

// Renderer builds the alert text for a matched subscription.
type Renderer interface {
	Notification(sub storage.Subscription, fee float64) string
}

type Config struct {
	// SendTimeout bounds a single send. Zero means 15s.
	SendTimeout time.Duration
	// RatePerSec paces sends per platform. Zero disables pacing.
	RatePerSec float64
}

// Summary describes one cycle.
type Summary struct {
	Baseline bool // no previous snapshot existed
	Checked  int
	Matched  int
	Sent     int
	Skipped  int
	Failed   int
}

type Dispatcher struct {
	cfg      Config
	source   Source
	store    storage.Store
	adapters *platform.Registry
	render   Renderer
	log      logx.Logger

	limMu    sync.Mutex
	limiters map[platform.Platform]*rate.Limiter
}

func New(cfg Config, source Source, store storage.Store, adapters *platform.Registry, render Renderer, log logx.Logger) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	return &Dispatcher{
		cfg:      cfg,
		source:   source,
		store:    store,
		adapters: adapters,
		render:   render,
		log:      log,
		limiters: map[platform.Platform]*rate.Limiter{},
	}
}

type match struct {
	sub storage.Subscription
	fee float64
}

// RunCycle performs one fetch/detect/store/send pass. Errors are returned only
// for fetch and storage failures; per-recipient send failures are counted.
func (d *Dispatcher) RunCycle(ctx context.Context) (Summary, error) {
	var sum Summary

	current, err := d.source.AllFees(ctx)
	if err != nil {
		return sum, fmt.Errorf("fetch fees: %w", err)
	}

	previous, ok, err := d.store.GetSnapshot(ctx, fees.SeriesAll)
	if err != nil {
		return sum, fmt.Errorf("read snapshot: %w", err)
	}

	var matched []match
	if !ok {
		sum.Baseline = true
	} else {
		subs, err := d.store.Subscriptions(ctx, storage.Filter{})
		if err != nil {
			return sum, fmt.Errorf("load subscriptions: %w", err)
		}
		sum.Checked = len(subs)
		for _, sub := range subs {
			if !fees.Crossed(current, previous, sub.From, sub.To, sub.Threshold) {
				continue
			}
			fee, _ := current.Get(sub.From, sub.To)
			matched = append(matched, match{sub: sub, fee: fee})
		}
	}
	sum.Matched = len(matched)

	// The baseline always advances, even with no matches.
	if err := d.store.PutSnapshot(ctx, fees.SeriesAll, current); err != nil {
		return sum, fmt.Errorf("store snapshot: %w", err)
	}

	for _, m := range matched {
		if ctx.Err() != nil {
			sum.Skipped += len(matched) - sum.Sent - sum.Skipped - sum.Failed
			break
		}
		switch err := d.deliver(ctx, m); {
		case err == nil:
			sum.Sent++
		case errors.Is(err, errNoAdapter):
			sum.Skipped++
			d.log.Warn("no adapter for subscription; skipped",
				logx.Int64("sub_id", m.sub.ID),
				logx.String("platform", string(m.sub.Platform)),
			)
		default:
			sum.Failed++
			d.log.Warn("notification failed",
				logx.Int64("sub_id", m.sub.ID),
				logx.String("platform", string(m.sub.Platform)),
				logx.String("recipient", m.sub.Recipient.String()),
				logx.Err(err),
			)
		}
	}
	return sum, nil
}

func (d *Dispatcher) deliver(ctx context.Context, m match) error {
	ad, ok := d.adapters.Get(m.sub.Platform)
	if !ok {
		return errNoAdapter
	}
	if lim := d.limiter(m.sub.Platform); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	if err := ad.Send(sctx, m.sub.Recipient, d.render.Notification(m.sub, m.fee)); err != nil {
		return err
	}
	d.log.Info("notification sent",
		logx.Int64("sub_id", m.sub.ID),
		logx.String("platform", string(m.sub.Platform)),
		logx.String("pair", m.sub.From+"->"+m.sub.To),
		logx.Float64("fee", m.fee),
	)
	return nil
}

func (d *Dispatcher) limiter(p platform.Platform) *rate.Limiter {
	if d.cfg.RatePerSec <= 0 {
		return nil
	}
	d.limMu.Lock()
	defer d.limMu.Unlock()
	lim, ok := d.limiters[p]
	if !ok {
		burst := int(d.cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(d.cfg.RatePerSec), burst)
		d.limiters[p] = lim
	}
	return lim
}
