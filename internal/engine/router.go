package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/alkkagi-arena-go/internal/alkkagi"
	"github.com/kapu/alkkagi-arena-go/internal/collab"
	"github.com/kapu/alkkagi-arena-go/internal/config"
	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/metrics"
	"github.com/kapu/alkkagi-arena-go/internal/obslog"
	"github.com/kapu/alkkagi-arena-go/internal/phase"
	"github.com/kapu/alkkagi-arena-go/internal/store"
)

// ResultCode classifies what happened to a routed action.
type ResultCode string

const (
	ResultOK            ResultCode = "ok"
	ResultRejected      ResultCode = "rejected"
	ResultBusy          ResultCode = "busy"
	ResultNotApplicable ResultCode = "not_applicable"
)

// Result is the router's answer to one client action. Session is a deep
// copy of the post-transition state when Code == ResultOK.
type Result struct {
	Code    ResultCode
	Err     error
	Session *game.Session
}

// Broadcaster pushes state snapshots and notices to connected clients.
// The gateway implements it; tests use a recording fake.
type Broadcaster interface {
	BroadcastState(sess *game.Session)
	Notify(ev game.Event)
}

// NopBroadcaster drops everything.
type NopBroadcaster struct{}

func (NopBroadcaster) BroadcastState(*game.Session) {}
func (NopBroadcaster) Notify(game.Event)            {}

// Engine ties the registry, the store, and the collaborators together.
type Engine struct {
	reg     *Registry
	st      *store.Store
	catalog *config.RuleCatalog
	clock   game.Clock
	rewards collab.RewardSink
	bcast   Broadcaster
}

func New(reg *Registry, st *store.Store, catalog *config.RuleCatalog, clock game.Clock, rewards collab.RewardSink, bcast Broadcaster) *Engine {
	if clock == nil {
		clock = game.WallClock
	}
	if rewards == nil {
		rewards = collab.NopRewardSink{}
	}
	if bcast == nil {
		bcast = NopBroadcaster{}
	}
	return &Engine{reg: reg, st: st, catalog: catalog, clock: clock, rewards: rewards, bcast: bcast}
}

func (e *Engine) Registry() *Registry { return e.reg }

// Session returns a read-only snapshot, falling back to the store for
// sessions no longer live.
func (e *Engine) Session(ctx context.Context, id string) (*game.Session, error) {
	if sess, ok := e.reg.Snapshot(id); ok {
		return sess, nil
	}
	sess, err := e.st.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Apply routes one client action through the session's mode handler.
// All-or-nothing: the handler runs on a clone and the clone replaces the
// live session only on success.
func (e *Engine) Apply(ctx context.Context, sessionID, userID string, action game.ActionType, p game.ActionPayload) Result {
	h, ok := e.reg.lookup(sessionID)
	if !ok {
		metrics.ActionsTotal.WithLabelValues(string(action), string(ResultRejected)).Inc()
		return Result{Code: ResultRejected, Err: ErrSessionNotFound}
	}
	if !h.mu.TryLock() {
		metrics.ActionsTotal.WithLabelValues(string(action), string(ResultBusy)).Inc()
		return Result{Code: ResultBusy, Err: errors.New("session is processing another action")}
	}
	defer h.mu.Unlock()

	now := e.clock()
	actor := h.sess.PlayerColor(userID)
	if actor == game.ColorNone && action != game.ActionAdminAbort {
		metrics.ActionsTotal.WithLabelValues(string(action), string(ResultRejected)).Inc()
		return Result{Code: ResultRejected, Err: ErrNotParticipant}
	}

	mode, err := e.reg.handlerFor(h.sess.Mode)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(string(action), string(ResultRejected)).Inc()
		return Result{Code: ResultRejected, Err: err}
	}

	cs := h.sess.Clone()
	cs.Processing = &game.ProcessingGuard{ActorID: userID, Since: now}
	events, err := mode.HandleAction(cs, actor, action, p, now)
	if err != nil {
		code := ResultRejected
		if errors.Is(err, alkkagi.ErrNotApplicable) || errors.Is(err, phase.ErrWrongPhase) {
			code = ResultNotApplicable
		}
		metrics.ActionsTotal.WithLabelValues(string(action), string(code)).Inc()
		return Result{Code: code, Err: err}
	}

	cs.Processing = nil
	cs.UpdatedAt = now
	h.sess = cs
	if err := e.persist(ctx, cs); err != nil {
		obslog.L().Error("persist_error",
			zap.String("session_id", cs.ID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
	e.dispatch(ctx, cs, append(events, game.StateChanged(cs.ID)), now)
	metrics.ActionsTotal.WithLabelValues(string(action), string(ResultOK)).Inc()
	return Result{Code: ResultOK, Session: cs.Clone()}
}

// MarkDisconnected opens the disconnect grace window for a user's seat.
func (e *Engine) MarkDisconnected(ctx context.Context, sessionID, userID string) error {
	return e.connTransition(ctx, sessionID, userID, true)
}

// MarkReconnected closes the grace window.
func (e *Engine) MarkReconnected(ctx context.Context, sessionID, userID string) error {
	return e.connTransition(ctx, sessionID, userID, false)
}

func (e *Engine) connTransition(ctx context.Context, sessionID, userID string, gone bool) error {
	h, ok := e.reg.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess.Ended() {
		return nil
	}
	c := h.sess.PlayerColor(userID)
	if c == game.ColorNone {
		return ErrNotParticipant
	}
	rules, err := e.catalog.Preset(h.sess.Preset)
	if err != nil {
		return err
	}
	now := e.clock()
	cs := h.sess.Clone()
	var events []game.Event
	if gone {
		events = phase.MarkDisconnected(cs, c, now, rules)
	} else {
		events = phase.MarkReconnected(cs, c, now)
	}
	if len(events) == 0 {
		return nil
	}
	h.sess = cs
	if err := e.persist(ctx, cs); err != nil {
		obslog.L().Error("persist_error", zap.String("session_id", cs.ID), zap.Error(err))
	}
	e.dispatch(ctx, cs, append(events, game.StateChanged(cs.ID)), now)
	return nil
}

// ForceEnd aborts a session from the admin surface.
func (e *Engine) ForceEnd(ctx context.Context, sessionID, adminID string) Result {
	obslog.L().Warn("admin_abort", zap.String("session_id", sessionID), zap.String("admin_id", adminID))
	return e.Apply(ctx, sessionID, adminID, game.ActionAdminAbort, game.ActionPayload{})
}

func (e *Engine) persist(ctx context.Context, sess *game.Session) error {
	if sess.Ended() {
		return e.st.SaveSync(ctx, sess)
	}
	return e.st.Save(ctx, sess)
}

// dispatch fans events out to the collaborators. Terminal events also
// settle profiles, emit rewards, and drop the session from the registry.
func (e *Engine) dispatch(ctx context.Context, sess *game.Session, events []game.Event, now time.Time) {
	for _, ev := range events {
		switch ev.Type {
		case game.EventState:
			e.bcast.BroadcastState(sess)
			metrics.BroadcastsTotal.Inc()
		case game.EventEnded:
			e.settle(ctx, sess, ev, now)
		default:
			e.bcast.Notify(ev)
		}
	}
}

func (e *Engine) settle(ctx context.Context, sess *game.Session, ev game.Event, now time.Time) {
	e.bcast.Notify(ev)
	if ev.Stats != nil {
		if err := e.st.RecordResult(ctx, ev.Stats, now); err != nil {
			obslog.L().Error("profile_settle_error", zap.String("session_id", sess.ID), zap.Error(err))
		}
		go e.rewards.SessionEnded(context.WithoutCancel(ctx), ev.Stats)
	}
	e.reg.Remove(sess.ID)
	obslog.L().Info("session_ended",
		zap.String("session_id", sess.ID),
		zap.String("winner", string(sess.Winner)),
		zap.String("reason", string(sess.WinReason)),
	)
}
