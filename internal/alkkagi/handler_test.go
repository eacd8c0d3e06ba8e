package alkkagi

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/kapu/alkkagi-arena-go/internal/config"
	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/phase"
	"github.com/kapu/alkkagi-arena-go/internal/physics"
)

var t0 = time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

func testHandler(t *testing.T) (*Handler, *config.RuleCatalog) {
	t.Helper()
	catalog, err := config.LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	return NewHandler(catalog, rand.New(rand.NewSource(1))), catalog
}

func testSession(t *testing.T, catalog *config.RuleCatalog, preset string) (*game.Session, config.Rules) {
	t.Helper()
	rules, err := catalog.Preset(preset)
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	set := game.Settings{Mode: game.ModeAlkkagi, Preset: preset, ColorPreference: game.Black}
	s := game.NewSession("s1", set, rules,
		game.Player{ID: "u-black", Name: "B"},
		game.Player{ID: "u-white", Name: "W"},
		t0,
	)
	return s, rules
}

func confirmBoth(t *testing.T, h *Handler, s *game.Session, now time.Time) {
	t.Helper()
	for _, c := range []game.Color{game.Black, game.White} {
		if _, err := h.HandleAction(s, c, game.ActionConfirm, game.ActionPayload{}, now); err != nil {
			t.Fatalf("confirm %s: %v", c, err)
		}
	}
}

func place(t *testing.T, h *Handler, s *game.Session, c game.Color, x, y float64, now time.Time) {
	t.Helper()
	if _, err := h.HandleAction(s, c, game.ActionPlaceStone, game.ActionPayload{X: x, Y: y}, now); err != nil {
		t.Fatalf("place %s (%v,%v): %v", c, x, y, err)
	}
}

// fillBoard alternates placements until both quotas are met.
func fillBoard(t *testing.T, h *Handler, s *game.Session, rules config.Rules, now time.Time) {
	t.Helper()
	for i := 0; i < rules.StonesPerRound; i++ {
		place(t, h, s, game.Black, 30+float64(i)*60, 100, now)
		place(t, h, s, game.White, 30+float64(i)*60, 350, now)
	}
}

func TestPregameConfirmAdvancesToPlacement(t *testing.T) {
	h, catalog := testHandler(t)
	s, _ := testSession(t, catalog, "standard")

	if s.Status != game.StatusPregameConfirm {
		t.Fatalf("status = %s, want %s", s.Status, game.StatusPregameConfirm)
	}
	confirmBoth(t, h, s, t0)
	if s.Status != game.StatusPlacement {
		t.Fatalf("status = %s, want %s", s.Status, game.StatusPlacement)
	}
	if s.CurrentTurn != game.Black {
		t.Fatalf("current turn = %s, want black", s.CurrentTurn)
	}
	if s.Confirm != nil {
		t.Fatal("confirm payload should be cleared on phase exit")
	}
}

func TestPlacementTurnEnforced(t *testing.T) {
	h, catalog := testHandler(t)
	s, _ := testSession(t, catalog, "standard")
	confirmBoth(t, h, s, t0)

	_, err := h.HandleAction(s, game.White, game.ActionPlaceStone, game.ActionPayload{X: 100, Y: 350}, t0)
	if !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("err = %v, want ErrNotYourTurn", err)
	}
}

func TestPlacementRejectsZoneAndOverlapViolations(t *testing.T) {
	h, catalog := testHandler(t)
	s, _ := testSession(t, catalog, "standard")
	confirmBoth(t, h, s, t0)

	// Black cannot place inside White's half.
	_, err := h.HandleAction(s, game.Black, game.ActionPlaceStone, game.ActionPayload{X: 100, Y: 400}, t0)
	if !errors.Is(err, ErrIllegalPlace) {
		t.Fatalf("out-of-zone err = %v, want ErrIllegalPlace", err)
	}

	place(t, h, s, game.Black, 100, 100, t0)
	place(t, h, s, game.White, 100, 350, t0)

	// 10 apart with radius 11 stones: overlapping.
	_, err = h.HandleAction(s, game.Black, game.ActionPlaceStone, game.ActionPayload{X: 110, Y: 100}, t0)
	if !errors.Is(err, ErrIllegalPlace) {
		t.Fatalf("overlap err = %v, want ErrIllegalPlace", err)
	}
	if got := len(s.Alkkagi.Stones); got != 2 {
		t.Fatalf("stones = %d, want 2 (rejected placements must not land)", got)
	}
}

func TestPlacementAlternatesAndStartsPlay(t *testing.T) {
	h, catalog := testHandler(t)
	s, rules := testSession(t, catalog, "standard")
	confirmBoth(t, h, s, t0)

	place(t, h, s, game.Black, 30, 100, t0)
	if s.CurrentTurn != game.White {
		t.Fatalf("turn after black placement = %s, want white", s.CurrentTurn)
	}
	place(t, h, s, game.White, 30, 350, t0)
	if s.CurrentTurn != game.Black {
		t.Fatalf("turn after white placement = %s, want black", s.CurrentTurn)
	}

	for i := 1; i < rules.StonesPerRound; i++ {
		place(t, h, s, game.Black, 30+float64(i)*60, 100, t0)
		place(t, h, s, game.White, 30+float64(i)*60, 350, t0)
	}
	if s.Status != game.StatusPlaying {
		t.Fatalf("status = %s, want %s", s.Status, game.StatusPlaying)
	}
	if s.CurrentTurn != game.Black {
		t.Fatalf("first flick belongs to black, got %s", s.CurrentTurn)
	}
	if got := len(s.Alkkagi.Stones); got != 2*rules.StonesPerRound {
		t.Fatalf("stones = %d, want %d", got, 2*rules.StonesPerRound)
	}
}

func TestFlickAnimatesThenAlternates(t *testing.T) {
	h, catalog := testHandler(t)
	s, rules := testSession(t, catalog, "standard")
	confirmBoth(t, h, s, t0)
	fillBoard(t, h, s, rules, t0)

	// wrong turn
	wID := stoneOf(t, s, game.White)
	_, err := h.HandleAction(s, game.White, game.ActionFlickStone, game.ActionPayload{StoneID: wID, VX: 10}, t0)
	if !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("err = %v, want ErrNotYourTurn", err)
	}
	// cannot flick the opponent's stone
	_, err = h.HandleAction(s, game.Black, game.ActionFlickStone, game.ActionPayload{StoneID: wID, VX: 10}, t0)
	if !errors.Is(err, ErrUnknownStone) {
		t.Fatalf("err = %v, want ErrUnknownStone", err)
	}

	bID := stoneOf(t, s, game.Black)
	if _, err := h.HandleAction(s, game.Black, game.ActionFlickStone, game.ActionPayload{StoneID: bID, VX: 10}, t0.Add(time.Second)); err != nil {
		t.Fatalf("flick: %v", err)
	}
	if s.Status != game.StatusAnimating {
		t.Fatalf("status = %s, want %s", s.Status, game.StatusAnimating)
	}
	if s.Alkkagi.AnimationDoneAt == nil {
		t.Fatal("animation window not set")
	}

	// before the grace window ends nothing moves
	if _, err := h.Advance(s, t0.Add(time.Second)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if s.Status != game.StatusAnimating {
		t.Fatalf("status = %s, want still animating", s.Status)
	}

	if _, err := h.Advance(s, t0.Add(time.Second).Add(rules.AnimationGrace)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if s.Status != game.StatusPlaying {
		t.Fatalf("status = %s, want %s", s.Status, game.StatusPlaying)
	}
	if s.CurrentTurn != game.White {
		t.Fatalf("turn = %s, want white after black's flick", s.CurrentTurn)
	}
}

func stoneOf(t *testing.T, s *game.Session, c game.Color) int {
	t.Helper()
	for _, st := range s.Alkkagi.Stones {
		if st.OnBoard && st.Owner == string(c) {
			return st.ID
		}
	}
	t.Fatalf("no on-board stone for %s", c)
	return 0
}

// intoPlay shapes the session into a playing state with a chosen board.
func intoPlay(s *game.Session, rules config.Rules, stones []physics.Stone, now time.Time) {
	s.Status = game.StatusPlaying
	s.CurrentTurn = game.Black
	s.Confirm = nil
	s.Alkkagi.Stones = stones
	s.Alkkagi.NextStoneID = len(stones) + 1
	s.SetDeadline(now.Add(rules.FlickTimeout))
}

func TestClearingOpponentWinsRound(t *testing.T) {
	h, catalog := testHandler(t)
	s, rules := testSession(t, catalog, "standard")
	confirmBoth(t, h, s, t0)
	intoPlay(s, rules, []physics.Stone{
		{ID: 1, Owner: "black", Pos: physics.Vec2{X: 100, Y: 100}, Radius: 11, OnBoard: true},
		{ID: 2, Owner: "black", Pos: physics.Vec2{X: 200, Y: 250}, Radius: 11, OnBoard: true},
		{ID: 3, Owner: "white", Pos: physics.Vec2{X: 200, Y: 280}, Radius: 11, OnBoard: true},
	}, t0)

	if _, err := h.HandleAction(s, game.Black, game.ActionFlickStone, game.ActionPayload{StoneID: 2, VY: 900}, t0); err != nil {
		t.Fatalf("flick: %v", err)
	}
	events, err := h.Advance(s, t0.Add(rules.AnimationGrace))
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if s.Status != game.StatusRoundEnd {
		t.Fatalf("status = %s, want %s", s.Status, game.StatusRoundEnd)
	}
	if s.Alkkagi.RoundWins[game.Black] != 1 {
		t.Fatalf("black round wins = %d, want 1", s.Alkkagi.RoundWins[game.Black])
	}
	if s.Alkkagi.PlacesFirst != game.White {
		t.Fatalf("places first = %s, want the round loser", s.Alkkagi.PlacesFirst)
	}
	if !hasEvent(events, game.EventRoundEnd) {
		t.Fatal("expected a round_end event")
	}

	// both confirm into round 2: loser's stones are gone, winner's stay
	confirmBoth(t, h, s, t0.Add(2*time.Second))
	if s.Status != game.StatusPlacement {
		t.Fatalf("status = %s, want %s", s.Status, game.StatusPlacement)
	}
	if s.Alkkagi.Round != 2 {
		t.Fatalf("round = %d, want 2", s.Alkkagi.Round)
	}
	if s.CurrentTurn != game.White {
		t.Fatalf("turn = %s, want the loser placing first", s.CurrentTurn)
	}
	for _, st := range s.Alkkagi.Stones {
		if st.Owner != "black" {
			t.Fatalf("survivor owned by %s, want black only", st.Owner)
		}
	}
}

func TestFinalRoundLeaderEndsMatchDirectly(t *testing.T) {
	h, catalog := testHandler(t)
	s, rules := testSession(t, catalog, "standard")
	confirmBoth(t, h, s, t0)
	intoPlay(s, rules, []physics.Stone{
		{ID: 1, Owner: "black", Pos: physics.Vec2{X: 100, Y: 100}, Radius: 11, OnBoard: true},
		{ID: 2, Owner: "black", Pos: physics.Vec2{X: 200, Y: 250}, Radius: 11, OnBoard: true},
		{ID: 3, Owner: "white", Pos: physics.Vec2{X: 200, Y: 280}, Radius: 11, OnBoard: true},
	}, t0)
	s.Alkkagi.Round = rules.Rounds
	s.Alkkagi.RoundWins = map[game.Color]int{game.Black: 1, game.White: 1}

	if _, err := h.HandleAction(s, game.Black, game.ActionFlickStone, game.ActionPayload{StoneID: 2, VY: 900}, t0); err != nil {
		t.Fatalf("flick: %v", err)
	}
	events, err := h.Advance(s, t0.Add(rules.AnimationGrace))
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if s.Status != game.StatusEnded {
		t.Fatalf("status = %s, want direct transition to %s", s.Status, game.StatusEnded)
	}
	if s.Winner != game.Black || s.WinReason != game.WinAlkkagi {
		t.Fatalf("winner = %s/%s, want black/alkkagi_win", s.Winner, s.WinReason)
	}
	if !hasEvent(events, game.EventEnded) {
		t.Fatal("expected an ended event")
	}
}

func TestPlacementTimeoutPlacesForSilentSeat(t *testing.T) {
	h, catalog := testHandler(t)
	s, rules := testSession(t, catalog, "standard")
	confirmBoth(t, h, s, t0)

	late := t0.Add(rules.PlacementTimeout + time.Second)
	events, err := h.Advance(s, late)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if s.TimeoutFouls[game.Black] != 1 {
		t.Fatalf("black fouls = %d, want 1", s.TimeoutFouls[game.Black])
	}
	if s.Alkkagi.Placed[game.Black] != 1 {
		t.Fatalf("black placed = %d, want the fallback placement", s.Alkkagi.Placed[game.Black])
	}
	if s.CurrentTurn != game.White {
		t.Fatalf("turn = %s, want white", s.CurrentTurn)
	}
	if !hasEvent(events, game.EventFoul) {
		t.Fatal("expected a foul event")
	}
}

func TestThirdPlacementFoulForfeitsWithoutPlacing(t *testing.T) {
	h, catalog := testHandler(t)
	s, rules := testSession(t, catalog, "standard")
	confirmBoth(t, h, s, t0)
	s.TimeoutFouls[game.Black] = rules.FoulLimit - 1
	movesBefore := len(s.Moves)

	events, err := h.Advance(s, t0.Add(rules.PlacementTimeout+time.Second))
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if s.Status != game.StatusEnded {
		t.Fatalf("status = %s, want %s", s.Status, game.StatusEnded)
	}
	if s.Winner != game.White || s.WinReason != game.WinTimeout {
		t.Fatalf("winner = %s/%s, want white/timeout", s.Winner, s.WinReason)
	}
	if len(s.Moves) != movesBefore {
		t.Fatal("forfeiting foul must not place a stone")
	}
	if s.Alkkagi.Placed[game.Black] != 0 {
		t.Fatalf("black placed = %d, want 0", s.Alkkagi.Placed[game.Black])
	}
	if !hasEvent(events, game.EventEnded) {
		t.Fatal("expected an ended event")
	}
}

func TestSimultaneousPlacementStagesAndMergesOnce(t *testing.T) {
	h, catalog := testHandler(t)
	s, rules := testSession(t, catalog, "blitz")
	confirmBoth(t, h, s, t0)

	if s.Status != game.StatusSimulPlacement {
		t.Fatalf("status = %s, want %s", s.Status, game.StatusSimulPlacement)
	}
	for i := 0; i < rules.StonesPerRound; i++ {
		place(t, h, s, game.Black, 30+float64(i)*60, 100, t0)
	}
	if len(s.Alkkagi.Stones) != 0 {
		t.Fatal("staged stones must not reach the shared board before the merge")
	}
	if got := len(s.Alkkagi.Staged[game.Black]); got != rules.StonesPerRound {
		t.Fatalf("staged black = %d, want %d", got, rules.StonesPerRound)
	}

	// quota is per seat even while the other side is still placing
	_, err := h.HandleAction(s, game.Black, game.ActionPlaceStone, game.ActionPayload{X: 390, Y: 100}, t0)
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("err = %v, want ErrQuotaExhausted", err)
	}

	for i := 0; i < rules.StonesPerRound; i++ {
		place(t, h, s, game.White, 30+float64(i)*60, 350, t0)
	}
	if s.Status != game.StatusPlaying {
		t.Fatalf("status = %s, want %s after both quotas", s.Status, game.StatusPlaying)
	}
	if s.Alkkagi.Staged != nil {
		t.Fatal("staging area must be discarded after the merge")
	}
	if got := len(s.Alkkagi.Stones); got != 2*rules.StonesPerRound {
		t.Fatalf("stones = %d, want %d", got, 2*rules.StonesPerRound)
	}
	if s.CurrentTurn != game.Black {
		t.Fatalf("turn = %s, want black to open play", s.CurrentTurn)
	}
}

func TestItemActivationRules(t *testing.T) {
	h, catalog := testHandler(t)
	s, rules := testSession(t, catalog, "standard")
	confirmBoth(t, h, s, t0)
	fillBoard(t, h, s, rules, t0)

	// white arms slow against black's upcoming flick
	if _, err := h.HandleAction(s, game.White, game.ActionUseItem, game.ActionPayload{Item: game.ItemSlow}, t0); err != nil {
		t.Fatalf("use item: %v", err)
	}
	_, err := h.HandleAction(s, game.White, game.ActionUseItem, game.ActionPayload{Item: game.ItemSlow}, t0)
	if !errors.Is(err, ErrItemActive) {
		t.Fatalf("err = %v, want ErrItemActive", err)
	}

	bID := stoneOf(t, s, game.Black)
	events, err := h.HandleAction(s, game.Black, game.ActionFlickStone, game.ActionPayload{StoneID: bID, VX: 10}, t0.Add(time.Second))
	if err != nil {
		t.Fatalf("flick: %v", err)
	}
	if s.Player(game.White).ActiveItems[game.ItemSlow] {
		t.Fatal("slow must be consumed by the flick it dampens")
	}
	if !hasEvent(events, game.EventNotice) {
		t.Fatal("expected a notice for the slow application")
	}

	// inventory exhausted (base count is 1)
	s.Status = game.StatusPlaying
	_, err = h.HandleAction(s, game.White, game.ActionUseItem, game.ActionPayload{Item: game.ItemSlow}, t0)
	if !errors.Is(err, ErrItemDepleted) {
		t.Fatalf("err = %v, want ErrItemDepleted", err)
	}
}

func TestResignEndsSessionOnce(t *testing.T) {
	h, catalog := testHandler(t)
	s, _ := testSession(t, catalog, "standard")
	confirmBoth(t, h, s, t0)

	events, err := h.HandleAction(s, game.White, game.ActionResign, game.ActionPayload{}, t0)
	if err != nil {
		t.Fatalf("resign: %v", err)
	}
	if s.Winner != game.Black || s.WinReason != game.WinResign {
		t.Fatalf("winner = %s/%s, want black/resign", s.Winner, s.WinReason)
	}
	if !hasEvent(events, game.EventEnded) {
		t.Fatal("expected an ended event")
	}
	if _, err := h.HandleAction(s, game.Black, game.ActionResign, game.ActionPayload{}, t0); !errors.Is(err, game.ErrAlreadyEnded) {
		t.Fatalf("err = %v, want ErrAlreadyEnded", err)
	}
}

func TestPregameConfirmDoubleSubmitRejected(t *testing.T) {
	h, catalog := testHandler(t)
	s, _ := testSession(t, catalog, "standard")

	if _, err := h.HandleAction(s, game.Black, game.ActionConfirm, game.ActionPayload{}, t0); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	_, err := h.HandleAction(s, game.Black, game.ActionConfirm, game.ActionPayload{}, t0)
	if !errors.Is(err, phase.ErrAlreadyDone) {
		t.Fatalf("err = %v, want ErrAlreadyDone", err)
	}
}

func hasEvent(events []game.Event, typ game.EventType) bool {
	for _, ev := range events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}
