// Package collab holds the narrow clients for external collaborators:
// the user/economy system the engine reads snapshots from and notifies on
// session end. The engine never mutates user records directly.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/obslog"
)

// RewardSink consumes end-of-session stats. Fire-and-forget: failures are
// logged, never propagated into the engine's transaction.
type RewardSink interface {
	SessionEnded(ctx context.Context, stats *game.EndStats)
}

// HeaderProvider injects per-request headers (auth tokens).
type HeaderProvider func() map[string]string

// EconomyClient posts reward events to the external economy service over
// HTTP.
type EconomyClient struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider
	timeout time.Duration
}

type Option func(*EconomyClient)

func WithTimeout(d time.Duration) Option {
	return func(c *EconomyClient) { c.timeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *EconomyClient) { c.headers = h }
}

func NewEconomyClient(baseURL string, opts ...Option) *EconomyClient {
	c := &EconomyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *EconomyClient) SessionEnded(ctx context.Context, stats *game.EndStats) {
	if c == nil || stats == nil {
		return
	}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/events/session-ended", stats, nil); err != nil {
		obslog.L().Error("reward_emit_error", zap.String("session_id", stats.SessionID), zap.Error(err))
		return
	}
	obslog.L().Info("reward_emit", zap.String("session_id", stats.SessionID), zap.String("winner_id", stats.WinnerID))
}

// UserSnapshot is the read-only view the engine is allowed to see.
type UserSnapshot struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	ItemBonus map[game.ItemType]int `json:"item_bonus,omitempty"`
}

// UserDirectory resolves user snapshots.
type UserDirectory interface {
	Snapshot(ctx context.Context, userID string) (*UserSnapshot, error)
}

// Snapshot fetches the user's equipped-bonus view from the economy
// service.
func (c *EconomyClient) Snapshot(ctx context.Context, userID string) (*UserSnapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("empty user id")
	}
	var out UserSnapshot
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/users/"+userID+"/snapshot", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *EconomyClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("economy service status %d", code)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// NopRewardSink discards events; used when no economy service is wired.
type NopRewardSink struct{}

func (NopRewardSink) SessionEnded(context.Context, *game.EndStats) {}

// StaticDirectory serves snapshots from memory; used in tests and when no
// economy service is configured.
type StaticDirectory map[string]*UserSnapshot

func (d StaticDirectory) Snapshot(_ context.Context, userID string) (*UserSnapshot, error) {
	if u, ok := d[userID]; ok {
		cp := *u
		return &cp, nil
	}
	return &UserSnapshot{ID: userID, Name: userID}, nil
}
