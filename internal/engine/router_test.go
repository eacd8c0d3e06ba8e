package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kapu/alkkagi-arena-go/internal/ai"
	"github.com/kapu/alkkagi-arena-go/internal/alkkagi"
	"github.com/kapu/alkkagi-arena-go/internal/config"
	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/store"
)

var t0 = time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

type recordingBroadcaster struct {
	mu     sync.Mutex
	states []string
	events []game.Event
}

func (b *recordingBroadcaster) BroadcastState(s *game.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = append(b.states, s.ID)
}

func (b *recordingBroadcaster) Notify(ev game.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBroadcaster) stateCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.states)
}

func (b *recordingBroadcaster) endedEvents() []game.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []game.Event
	for _, ev := range b.events {
		if ev.Type == game.EventEnded {
			out = append(out, ev)
		}
	}
	return out
}

type recordingRewards struct {
	mu    sync.Mutex
	stats []*game.EndStats
}

func (r *recordingRewards) SessionEnded(_ context.Context, s *game.EndStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, s)
}

func (r *recordingRewards) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stats)
}

type fixture struct {
	eng     *Engine
	factory *Factory
	st      *store.Store
	bcast   *recordingBroadcaster
	rewards *recordingRewards
	now     *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.New(rdb, store.NewMemoryRepository())
	t.Cleanup(func() { _ = st.Close() })

	catalog, err := config.LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	reg := NewRegistry(8)
	reg.RegisterMode(alkkagi.NewHandler(catalog, rand.New(rand.NewSource(1))))

	now := t0
	bcast := &recordingBroadcaster{}
	rewards := &recordingRewards{}
	eng := New(reg, st, catalog, func() time.Time { return now }, rewards, bcast)
	factory := NewFactory(eng, true, rand.New(rand.NewSource(1)))
	return &fixture{eng: eng, factory: factory, st: st, bcast: bcast, rewards: rewards, now: &now}
}

func (f *fixture) newSession(t *testing.T) *game.Session {
	t.Helper()
	sess, err := f.factory.Create(context.Background(),
		game.Player{ID: "u-black", Name: "B"},
		game.Player{ID: "u-white", Name: "W"},
		game.Settings{Mode: game.ModeAlkkagi, Preset: "standard", ColorPreference: game.Black},
	)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return sess
}

func TestApplyRoutesAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t)
	before := f.bcast.stateCount()

	res := f.eng.Apply(context.Background(), sess.ID, "u-black", game.ActionConfirm, game.ActionPayload{})
	if res.Code != ResultOK {
		t.Fatalf("code = %s err = %v, want ok", res.Code, res.Err)
	}
	if res.Session == nil || !res.Session.Confirm.Confirmed[game.Black] {
		t.Fatal("result snapshot missing the applied confirm")
	}
	if f.bcast.stateCount() != before+1 {
		t.Fatalf("state broadcasts = %d, want %d", f.bcast.stateCount(), before+1)
	}

	// the store sees the same state
	stored, err := f.st.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Confirm.Confirmed[game.Black] {
		t.Fatal("persisted snapshot missing the applied confirm")
	}
}

func TestApplyRejectsOutsiders(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t)

	res := f.eng.Apply(context.Background(), sess.ID, "mallory", game.ActionConfirm, game.ActionPayload{})
	if res.Code != ResultRejected || !errors.Is(res.Err, ErrNotParticipant) {
		t.Fatalf("code = %s err = %v, want rejected/ErrNotParticipant", res.Code, res.Err)
	}

	res = f.eng.Apply(context.Background(), "ghost", "u-black", game.ActionConfirm, game.ActionPayload{})
	if res.Code != ResultRejected || !errors.Is(res.Err, ErrSessionNotFound) {
		t.Fatalf("code = %s err = %v, want rejected/ErrSessionNotFound", res.Code, res.Err)
	}
}

func TestApplyClassifiesPhaseMismatch(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t)

	// flicking during the pre-game handshake is not applicable
	res := f.eng.Apply(context.Background(), sess.ID, "u-black", game.ActionFlickStone, game.ActionPayload{StoneID: 1, VX: 10})
	if res.Code != ResultNotApplicable {
		t.Fatalf("code = %s err = %v, want not_applicable", res.Code, res.Err)
	}

	// a failed action leaves the live state untouched
	snap, _ := f.eng.Registry().Snapshot(sess.ID)
	if snap.Status != game.StatusPregameConfirm {
		t.Fatalf("status = %s, want unchanged", snap.Status)
	}
}

func TestTerminalActionSettlesAndUnregisters(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t)

	res := f.eng.Apply(context.Background(), sess.ID, "u-white", game.ActionResign, game.ActionPayload{})
	if res.Code != ResultOK {
		t.Fatalf("code = %s err = %v", res.Code, res.Err)
	}
	if f.eng.Registry().Len() != 0 {
		t.Fatal("ended session must leave the registry")
	}

	stored, err := f.st.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != game.StatusEnded || stored.Winner != game.Black {
		t.Fatalf("stored = %s/%s, want ended/black", stored.Status, stored.Winner)
	}

	ended := f.bcast.endedEvents()
	if len(ended) != 1 || ended[0].Stats == nil {
		t.Fatalf("ended events = %+v, want one with stats", ended)
	}

	// reward emission is asynchronous
	deadline := time.Now().Add(time.Second)
	for f.rewards.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.rewards.count() != 1 {
		t.Fatal("reward sink not invoked")
	}

	// profiles settled synchronously
	p, err := f.st.Profile(context.Background(), "u-black")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.Wins != 1 {
		t.Fatalf("winner profile = %+v, want one win", p)
	}
}

func TestDriverAppliesDeadlineFallback(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t)
	driver := NewDriver(f.eng, nil, time.Minute)

	// nobody confirms: past the deadline the tick fouls both seats and
	// forces placement
	*f.now = t0.Add(time.Hour)
	driver.RunOnce(context.Background())

	snap, ok := f.eng.Registry().Snapshot(sess.ID)
	if !ok {
		t.Fatal("session missing")
	}
	if snap.Status != game.StatusPlacement {
		t.Fatalf("status = %s, want %s", snap.Status, game.StatusPlacement)
	}
	if snap.TimeoutFouls[game.Black] != 1 || snap.TimeoutFouls[game.White] != 1 {
		t.Fatalf("fouls = %+v, want one each", snap.TimeoutFouls)
	}
}

func TestDriverFeedsAISeat(t *testing.T) {
	f := newFixture(t)
	sess, err := f.factory.CreateAIMatch(context.Background(),
		game.Player{ID: "u-human", Name: "H"},
		game.Settings{Mode: game.ModeAlkkagi, Preset: "standard", ColorPreference: game.White},
	)
	if err != nil {
		t.Fatalf("ai match: %v", err)
	}
	driver := NewDriver(f.eng, ai.NewBaseline(1), time.Minute)

	// tick 1: the AI seat auto-confirms; the human confirms by hand
	driver.RunOnce(context.Background())
	res := f.eng.Apply(context.Background(), sess.ID, "u-human", game.ActionConfirm, game.ActionPayload{})
	if res.Code != ResultOK {
		t.Fatalf("confirm: %s %v", res.Code, res.Err)
	}
	snap, _ := f.eng.Registry().Snapshot(sess.ID)
	if snap.Status != game.StatusPlacement {
		t.Fatalf("status = %s, want placement", snap.Status)
	}
	if snap.CurrentTurn != game.Black {
		t.Fatalf("turn = %s, want the AI's black seat", snap.CurrentTurn)
	}

	// tick 2: the AI places its first stone
	driver.RunOnce(context.Background())
	snap, _ = f.eng.Registry().Snapshot(sess.ID)
	if snap.Alkkagi.Placed[game.Black] != 1 {
		t.Fatalf("ai placed = %d, want 1", snap.Alkkagi.Placed[game.Black])
	}
	if snap.CurrentTurn != game.White {
		t.Fatalf("turn = %s, want back to the human", snap.CurrentTurn)
	}
}

func TestRegistryCapacity(t *testing.T) {
	f := newFixture(t)
	reg := NewRegistry(1)
	if err := reg.Insert(&game.Session{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Insert(&game.Session{ID: "b"}); !errors.Is(err, ErrCapacity) {
		t.Fatalf("err = %v, want ErrCapacity", err)
	}
	// reinserting the same id is a no-op
	if err := reg.Insert(&game.Session{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	_ = f
}

func TestBusySessionRejectedNotQueued(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t)

	h, ok := f.eng.reg.lookup(sess.ID)
	if !ok {
		t.Fatal("session missing")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	res := f.eng.Apply(context.Background(), sess.ID, "u-black", game.ActionConfirm, game.ActionPayload{})
	if res.Code != ResultBusy {
		t.Fatalf("code = %s, want busy", res.Code)
	}
}
