package negotiation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kapu/alkkagi-arena-go/internal/game"
)

var t0 = time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

func testManager(t *testing.T, factory SessionFactory) (*Manager, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := t0
	clock := func() time.Time { return now }
	if factory == nil {
		factory = func(_ context.Context, challenger, opponent Participant, set game.Settings) (*game.Session, error) {
			return &game.Session{ID: "sess-1", Mode: set.Mode}, nil
		}
	}
	return NewManager(rdb, factory, 90*time.Second, clock), &now
}

var (
	alice = Participant{ID: "alice", Name: "Alice"}
	bob   = Participant{ID: "bob", Name: "Bob"}
)

func settings() game.Settings {
	return game.Settings{Mode: game.ModeAlkkagi, Preset: "standard"}
}

func TestProposeAndAccept(t *testing.T) {
	m, _ := testManager(t, nil)
	ctx := context.Background()

	n, err := m.Propose(ctx, alice, bob, settings())
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if n.ProposerID != alice.ID {
		t.Fatalf("proposer = %s, want alice", n.ProposerID)
	}

	sess, err := m.Accept(ctx, n.ID, bob.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if sess.ID != "sess-1" {
		t.Fatalf("session id = %s", sess.ID)
	}
	if _, err := m.Get(ctx, n.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("negotiation must be deleted after accept, got %v", err)
	}
}

func TestProposerCannotAcceptOwnOffer(t *testing.T) {
	m, _ := testManager(t, nil)
	ctx := context.Background()

	n, err := m.Propose(ctx, alice, bob, settings())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Accept(ctx, n.ID, alice.ID); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("err = %v, want ErrNotYourTurn", err)
	}
	if _, err := m.Accept(ctx, n.ID, "mallory"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
}

func TestCounterProposeFlipsProposer(t *testing.T) {
	m, _ := testManager(t, nil)
	ctx := context.Background()

	n, err := m.Propose(ctx, alice, bob, settings())
	if err != nil {
		t.Fatal(err)
	}

	// the original proposer cannot counter their own pending offer
	if _, err := m.CounterPropose(ctx, n.ID, alice.ID, settings()); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("err = %v, want ErrNotYourTurn", err)
	}

	countered := settings()
	countered.Preset = "blitz"
	n2, err := m.CounterPropose(ctx, n.ID, bob.ID, countered)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if n2.ProposerID != bob.ID {
		t.Fatalf("proposer = %s, want bob after the counter", n2.ProposerID)
	}
	if n2.Settings.Preset != "blitz" {
		t.Fatalf("preset = %s, want blitz", n2.Settings.Preset)
	}

	// now the original challenger is the one who may accept
	if _, err := m.Accept(ctx, n.ID, bob.ID); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("err = %v, want ErrNotYourTurn", err)
	}
	if _, err := m.Accept(ctx, n.ID, alice.ID); err != nil {
		t.Fatalf("accept after counter: %v", err)
	}
}

func TestOnePendingNegotiationPerOpponent(t *testing.T) {
	m, _ := testManager(t, nil)
	ctx := context.Background()

	if _, err := m.Propose(ctx, alice, bob, settings()); err != nil {
		t.Fatal(err)
	}
	carol := Participant{ID: "carol", Name: "Carol"}
	if _, err := m.Propose(ctx, carol, bob, settings()); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("err = %v, want ErrAlreadyPending", err)
	}
}

func TestSelfChallengeRejected(t *testing.T) {
	m, _ := testManager(t, nil)
	if _, err := m.Propose(context.Background(), alice, alice, settings()); !errors.Is(err, ErrSelfChallenge) {
		t.Fatalf("err = %v, want ErrSelfChallenge", err)
	}
}

func TestExpiredNegotiationCannotBeAccepted(t *testing.T) {
	m, now := testManager(t, nil)
	ctx := context.Background()

	n, err := m.Propose(ctx, alice, bob, settings())
	if err != nil {
		t.Fatal(err)
	}
	*now = t0.Add(2 * time.Minute)
	if _, err := m.Accept(ctx, n.ID, bob.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestDeclineDeletes(t *testing.T) {
	m, _ := testManager(t, nil)
	ctx := context.Background()

	n, err := m.Propose(ctx, alice, bob, settings())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Decline(ctx, n.ID, bob.ID); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if _, err := m.Get(ctx, n.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// the pending slot frees up
	if _, err := m.Propose(ctx, alice, bob, settings()); err != nil {
		t.Fatalf("re-propose after decline: %v", err)
	}
}

func TestFactoryErrorKeepsNegotiation(t *testing.T) {
	factoryErr := errors.New("capacity")
	m, _ := testManager(t, func(context.Context, Participant, Participant, game.Settings) (*game.Session, error) {
		return nil, factoryErr
	})
	ctx := context.Background()

	n, err := m.Propose(ctx, alice, bob, settings())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Accept(ctx, n.ID, bob.ID); !errors.Is(err, factoryErr) {
		t.Fatalf("err = %v, want factory error", err)
	}
	if _, err := m.Get(ctx, n.ID); err != nil {
		t.Fatalf("negotiation should survive a failed accept, got %v", err)
	}
}
