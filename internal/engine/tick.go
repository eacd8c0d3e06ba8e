package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/alkkagi-arena-go/internal/ai"
	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/metrics"
	"github.com/kapu/alkkagi-arena-go/internal/obslog"
)

// Driver is the engine's clock: on every tick it scans live sessions,
// applies at most one deadline transition each, and feeds AI seats their
// next action. Sessions whose guard is held are skipped, never waited on.
type Driver struct {
	eng      *Engine
	provider ai.Provider
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewDriver(eng *Engine, provider ai.Provider, interval time.Duration) *Driver {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Driver{
		eng:      eng,
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Run blocks until the context is cancelled or Stop is called.
func (d *Driver) Run(ctx context.Context) {
	d.wg.Add(1)
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	obslog.L().Info("tick_driver_start", zap.Duration("interval", d.interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

func (d *Driver) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

// RunOnce performs a single scan. Exposed for tests and for callers that
// drive ticks manually.
func (d *Driver) RunOnce(ctx context.Context) {
	for _, id := range d.eng.reg.IDs() {
		d.tickOne(ctx, id)
	}
	metrics.TicksTotal.Inc()
}

func (d *Driver) tickOne(ctx context.Context, id string) {
	h, ok := d.eng.reg.lookup(id)
	if !ok {
		return
	}
	if !h.mu.TryLock() {
		metrics.TickSkips.Inc()
		return
	}
	defer h.mu.Unlock()

	if h.sess.Ended() {
		d.eng.reg.Remove(id)
		return
	}
	mode, err := d.eng.reg.handlerFor(h.sess.Mode)
	if err != nil {
		obslog.L().Error("tick_mode_error", zap.String("session_id", id), zap.Error(err))
		return
	}
	now := d.eng.clock()

	cs := h.sess.Clone()
	events, err := mode.Advance(cs, now)
	if err != nil {
		obslog.L().Error("tick_advance_error", zap.String("session_id", id), zap.Error(err))
		return
	}
	if len(events) > 0 || !cs.UpdatedAt.Equal(h.sess.UpdatedAt) {
		h.sess = cs
		if err := d.eng.persist(ctx, cs); err != nil {
			obslog.L().Error("persist_error", zap.String("session_id", id), zap.Error(err))
		}
		d.eng.dispatch(ctx, cs, append(events, game.StateChanged(cs.ID)), now)
	}
	if cs.Ended() {
		return
	}
	d.feedAI(ctx, h, mode, now)
}

// feedAI asks the provider for one action per AI seat and pushes it
// through the same handler path as human input. Caller holds the guard.
func (d *Driver) feedAI(ctx context.Context, h *handle, mode ModeHandler, now time.Time) {
	if d.provider == nil {
		return
	}
	rules, err := d.eng.catalog.Preset(h.sess.Preset)
	if err != nil {
		return
	}
	for _, c := range []game.Color{game.Black, game.White} {
		p := h.sess.Player(c)
		if p == nil || !p.IsAI || h.sess.Ended() {
			continue
		}
		action, payload, ok := d.provider.NextAction(h.sess, c, rules)
		if !ok {
			continue
		}
		cs := h.sess.Clone()
		cs.Processing = &game.ProcessingGuard{ActorID: p.ID, Since: now}
		events, err := mode.HandleAction(cs, c, action, payload, now)
		if err != nil {
			obslog.L().Warn("ai_action_rejected",
				zap.String("session_id", h.sess.ID),
				zap.String("action", string(action)),
				zap.Error(err),
			)
			continue
		}
		cs.Processing = nil
		cs.UpdatedAt = now
		h.sess = cs
		if err := d.eng.persist(ctx, cs); err != nil {
			obslog.L().Error("persist_error", zap.String("session_id", cs.ID), zap.Error(err))
		}
		d.eng.dispatch(ctx, cs, append(events, game.StateChanged(cs.ID)), now)
		metrics.ActionsTotal.WithLabelValues(string(action), string(ResultOK)).Inc()
	}
}
