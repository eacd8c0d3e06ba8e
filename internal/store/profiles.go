package store

import (
	"context"
	"time"

	"github.com/kapu/alkkagi-arena-go/internal/game"
)

// RecordResult folds a finished session into both players' profiles.
// Admin aborts with no winner count as a draw for both sides.
func (s *Store) RecordResult(ctx context.Context, stats *game.EndStats, now time.Time) error {
	if stats == nil {
		return nil
	}
	draw := stats.Winner == game.ColorNone
	for _, pid := range []string{stats.WinnerID, stats.LoserID} {
		if pid == "" {
			continue
		}
		p, err := s.repo.GetProfile(ctx, pid)
		if err != nil {
			return err
		}
		if p == nil {
			p = &Profile{PlayerID: pid}
		}
		switch {
		case draw:
			p.Draws++
			p.Streak = 0
		case pid == stats.WinnerID:
			p.Wins++
			if p.Streak < 0 {
				p.Streak = 0
			}
			p.Streak++
		default:
			p.Losses++
			if p.Streak > 0 {
				p.Streak = 0
			}
			p.Streak--
		}
		p.LastPlayedAt = now
		if err := s.repo.UpsertProfile(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Profile reads a player's aggregate record.
func (s *Store) Profile(ctx context.Context, playerID string) (*Profile, error) {
	return s.repo.GetProfile(ctx, playerID)
}
