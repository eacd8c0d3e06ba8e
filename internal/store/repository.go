package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/kapu/alkkagi-arena-go/internal/game"
)

// Repository is the opaque durable collaborator behind the cache. The
// engine assumes nothing about its semantics beyond get/save/delete.
type Repository interface {
	GetSnapshot(ctx context.Context, id string) (*game.Session, error)
	SaveSnapshot(ctx context.Context, sess *game.Session) error
	Delete(ctx context.Context, id string) error
	UpsertProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, playerID string) (*Profile, error)
	Close() error
}

// Profile is the per-player aggregate kept in durable storage.
type Profile struct {
	PlayerID     string
	Wins         int
	Losses       int
	Draws        int
	Streak       int
	LastPlayedAt time.Time
}

type pgRepository struct {
	db *sql.DB
}

// NewPGRepository opens a postgres-backed repository.
func NewPGRepository(databaseURL string) (Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &pgRepository{db: db}, nil
}

func (r *pgRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *pgRepository) SaveSnapshot(ctx context.Context, sess *game.Session) error {
	if sess == nil {
		return errors.New("nil session")
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	const query = `
		INSERT INTO arena_sessions (id, mode, status, winner, win_reason, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			winner = EXCLUDED.winner,
			win_reason = EXCLUDED.win_reason,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at`
	_, err = r.db.ExecContext(ctx, query,
		sess.ID,
		string(sess.Mode),
		string(sess.Status),
		string(sess.Winner),
		string(sess.WinReason),
		raw,
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (r *pgRepository) GetSnapshot(ctx context.Context, id string) (*game.Session, error) {
	const query = `SELECT snapshot FROM arena_sessions WHERE id = $1`
	var raw []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	var sess game.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (r *pgRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM arena_sessions WHERE id = $1`, id)
	return err
}

func (r *pgRepository) UpsertProfile(ctx context.Context, p *Profile) error {
	if p == nil {
		return errors.New("nil profile")
	}
	const query = `
		INSERT INTO arena_profiles (player_id, wins, losses, draws, streak, last_played_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (player_id) DO UPDATE SET
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			draws = EXCLUDED.draws,
			streak = EXCLUDED.streak,
			last_played_at = EXCLUDED.last_played_at,
			updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, p.PlayerID, p.Wins, p.Losses, p.Draws, p.Streak, p.LastPlayedAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (r *pgRepository) GetProfile(ctx context.Context, playerID string) (*Profile, error) {
	const query = `
		SELECT player_id, wins, losses, draws, streak, last_played_at
		FROM arena_profiles WHERE player_id = $1`
	var p Profile
	err := r.db.QueryRowContext(ctx, query, playerID).Scan(
		&p.PlayerID, &p.Wins, &p.Losses, &p.Draws, &p.Streak, &p.LastPlayedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select profile: %w", err)
	}
	return &p, nil
}
