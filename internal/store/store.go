// Package store keeps the canonical session snapshots: a redis cache in
// front of a durable repository. Writes land in the cache first and are
// flushed to the repository asynchronously; terminal sessions are flushed
// synchronously before the caller is acknowledged.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/obslog"
)

const sessionTTL = 24 * time.Hour

type Store struct {
	rdb  *redis.Client
	repo Repository

	flushCh  chan *game.Session
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New wires the cache to a durable repository and starts the flush worker.
func New(rdb *redis.Client, repo Repository) *Store {
	s := &Store{
		rdb:     rdb,
		repo:    repo,
		flushCh: make(chan *game.Session, 256),
		stopCh:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s
}

// NewFromURL connects to redis and wires the repository.
func NewFromURL(redisURL string, repo Repository) (*Store, error) {
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, repo), nil
}

// Redis exposes the shared client for collaborators that keep their own
// ephemeral keys (negotiations).
func (s *Store) Redis() *redis.Client { return s.rdb }

func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}

func sessionKey(id string) string { return "arena:session:" + strings.TrimSpace(id) }
func idxUserKey(uid string) string { return "arena:index:user:" + strings.TrimSpace(uid) }

// Get returns the cached session, falling back to the durable repository
// on a cache miss. Returns (nil, nil) when the session does not exist.
func (s *Store) Get(ctx context.Context, id string) (*game.Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		sess, rerr := s.repo.GetSnapshot(ctx, id)
		if rerr != nil || sess == nil {
			return nil, rerr
		}
		_ = s.writeCache(ctx, sess)
		return sess, nil
	}
	if err != nil {
		return nil, err
	}
	var sess game.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Save writes the cache and queues an asynchronous durable flush.
func (s *Store) Save(ctx context.Context, sess *game.Session) error {
	if err := s.writeCache(ctx, sess); err != nil {
		return err
	}
	select {
	case s.flushCh <- sess.Clone():
	default:
		// queue full: skip; a later save or the terminal sync flush will
		// carry the state
		obslog.L().Warn("store_flush_queue_full", zap.String("session_id", sess.ID))
	}
	return nil
}

// SaveSync writes the cache and flushes durably before returning. Used
// for terminal transitions.
func (s *Store) SaveSync(ctx context.Context, sess *game.Session) error {
	if err := s.writeCache(ctx, sess); err != nil {
		return err
	}
	if err := s.repo.SaveSnapshot(ctx, sess); err != nil {
		return fmt.Errorf("durable flush: %w", err)
	}
	return nil
}

// Delete removes the session from cache and durable storage.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// IndexParticipants records session membership per user so lookups by
// user id stay O(sessions-per-user).
func (s *Store) IndexParticipants(ctx context.Context, sessionID string, userIDs ...string) error {
	for _, uid := range userIDs {
		if strings.TrimSpace(uid) == "" {
			continue
		}
		key := idxUserKey(uid)
		if err := s.rdb.SAdd(ctx, key, sessionID).Err(); err != nil {
			return err
		}
		_ = s.rdb.Expire(ctx, key, sessionTTL).Err()
	}
	return nil
}

// SessionIDsByUser lists the indexed session ids for a user.
func (s *Store) SessionIDsByUser(ctx context.Context, userID string) ([]string, error) {
	return s.rdb.SMembers(ctx, idxUserKey(userID)).Result()
}

func (s *Store) writeCache(ctx context.Context, sess *game.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, sessionKey(sess.ID), raw, sessionTTL).Err()
}

func (s *Store) flushLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			// drain what is queued before shutting down
			for {
				select {
				case sess := <-s.flushCh:
					s.flushOne(sess)
				default:
					return
				}
			}
		case sess := <-s.flushCh:
			s.flushOne(sess)
		}
	}
}

func (s *Store) flushOne(sess *game.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.SaveSnapshot(ctx, sess); err != nil {
		obslog.L().Error("store_flush_error", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

// ParseRedisURL accepts redis:// and rediss:// URLs.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
