// Package gateway is the client-facing surface: a websocket endpoint for
// play and negotiation, plus health and metrics over plain HTTP. All
// authenticated traffic rides one socket per client; the engine pushes
// state through the hub.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kapu/alkkagi-arena-go/internal/engine"
	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/negotiation"
	"github.com/kapu/alkkagi-arena-go/internal/obslog"
	"github.com/kapu/alkkagi-arena-go/internal/store"
)

// inMsg is the client-to-server envelope.
type inMsg struct {
	Type string `json:"type"`

	SessionID string             `json:"session_id,omitempty"`
	Action    game.ActionType    `json:"action,omitempty"`
	Payload   game.ActionPayload `json:"payload,omitempty"`

	NegotiationID string         `json:"negotiation_id,omitempty"`
	OpponentID    string         `json:"opponent_id,omitempty"`
	OpponentName  string         `json:"opponent_name,omitempty"`
	Settings      *game.Settings `json:"settings,omitempty"`
}

type Server struct {
	auth    *TokenAuth
	hub     *Hub
	eng     *engine.Engine
	factory *engine.Factory
	neg     *negotiation.Manager
	st      *store.Store

	httpSrv *http.Server
}

func NewServer(addr string, auth *TokenAuth, hub *Hub, eng *engine.Engine, factory *engine.Factory, neg *negotiation.Manager, st *store.Store) *Server {
	s := &Server{auth: auth, hub: hub, eng: eng, factory: factory, neg: neg, st: st}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	obslog.L().Info("gateway_listen", zap.String("addr", s.httpSrv.Addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id, err := s.auth.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		OriginPatterns:  []string{"*"},
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}

	c := newClient(id, conn)
	s.hub.add(c)
	obslog.L().Info("ws_connect", zap.String("user_id", id.UserID))

	ctx := r.Context()
	go c.writeLoop(ctx)
	s.markPresence(ctx, id.UserID, true)
	s.pushLiveSessions(ctx, c)

	s.readLoop(ctx, c)

	c.close()
	s.hub.remove(c)
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	if !s.hub.Connected(id.UserID) {
		s.markPresence(context.Background(), id.UserID, false)
	}
	obslog.L().Info("ws_disconnect", zap.String("user_id", id.UserID))
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		var m inMsg
		if err := wsjson.Read(ctx, c.conn, &m); err != nil {
			return
		}
		s.handleMessage(ctx, c, m)
	}
}

func (s *Server) handleMessage(ctx context.Context, c *client, m inMsg) {
	switch m.Type {
	case "action":
		s.handleAction(ctx, c, m)
	case "challenge":
		s.handleChallenge(ctx, c, m)
	case "counter":
		s.handleCounter(ctx, c, m)
	case "accept":
		s.handleAccept(ctx, c, m)
	case "decline":
		if err := s.neg.Decline(ctx, m.NegotiationID, c.id.UserID); err != nil {
			c.send(outMsg{Type: "error", Code: "negotiation", Error: err.Error()})
			return
		}
		c.send(outMsg{Type: "declined", Code: m.NegotiationID})
	case "ai_match":
		s.handleAIMatch(ctx, c, m)
	case "spectate":
		s.handleSpectate(ctx, c, m)
	case "unwatch":
		s.hub.unwatch(c, m.SessionID)
	case "resume":
		s.pushLiveSessions(ctx, c)
	case "profile":
		p, err := s.st.Profile(ctx, c.id.UserID)
		if err != nil {
			c.send(outMsg{Type: "error", Code: "profile", Error: err.Error()})
			return
		}
		if p == nil {
			p = &store.Profile{PlayerID: c.id.UserID}
		}
		c.send(outMsg{Type: "profile", Profile: p})
	case "admin_abort":
		if !c.id.Admin {
			c.send(outMsg{Type: "error", Code: "forbidden", Error: "admin only"})
			return
		}
		res := s.eng.ForceEnd(ctx, m.SessionID, c.id.UserID)
		if res.Err != nil {
			c.send(outMsg{Type: "error", Code: string(res.Code), Error: res.Err.Error()})
		}
	default:
		c.send(outMsg{Type: "error", Code: "unknown_type", Error: "unknown message type " + m.Type})
	}
}

func (s *Server) handleAction(ctx context.Context, c *client, m inMsg) {
	res := s.eng.Apply(ctx, m.SessionID, c.id.UserID, m.Action, m.Payload)
	if res.Err != nil {
		c.send(outMsg{Type: "error", Code: string(res.Code), Error: res.Err.Error()})
	}
	// successful actions reach the client through the state broadcast
}

func (s *Server) handleChallenge(ctx context.Context, c *client, m inMsg) {
	if m.Settings == nil {
		c.send(outMsg{Type: "error", Code: "negotiation", Error: "settings required"})
		return
	}
	n, err := s.neg.Propose(ctx,
		negotiation.Participant{ID: c.id.UserID, Name: c.id.Name},
		negotiation.Participant{ID: m.OpponentID, Name: m.OpponentName},
		*m.Settings,
	)
	if err != nil {
		c.send(outMsg{Type: "error", Code: "negotiation", Error: err.Error()})
		return
	}
	c.send(outMsg{Type: "challenge_sent", Code: n.ID})
	s.hub.sendToUser(n.OpponentID, outMsg{Type: "challenged", Code: n.ID})
}

func (s *Server) handleCounter(ctx context.Context, c *client, m inMsg) {
	if m.Settings == nil {
		c.send(outMsg{Type: "error", Code: "negotiation", Error: "settings required"})
		return
	}
	n, err := s.neg.CounterPropose(ctx, m.NegotiationID, c.id.UserID, *m.Settings)
	if err != nil {
		c.send(outMsg{Type: "error", Code: "negotiation", Error: err.Error()})
		return
	}
	other := n.ChallengerID
	if c.id.UserID == other {
		other = n.OpponentID
	}
	s.hub.sendToUser(other, outMsg{Type: "countered", Code: n.ID})
}

func (s *Server) handleAccept(ctx context.Context, c *client, m inMsg) {
	sess, err := s.neg.Accept(ctx, m.NegotiationID, c.id.UserID)
	if err != nil {
		c.send(outMsg{Type: "error", Code: "negotiation", Error: err.Error()})
		return
	}
	// factory already broadcast the initial state; echo here covers
	// clients that connected after the handshake started
	c.send(outMsg{Type: "state", Session: sess})
}

func (s *Server) handleAIMatch(ctx context.Context, c *client, m inMsg) {
	set := game.Settings{Mode: game.ModeAlkkagi}
	if m.Settings != nil {
		set = *m.Settings
	}
	sess, err := s.factory.CreateAIMatch(ctx, game.Player{ID: c.id.UserID, Name: c.id.Name}, set)
	if err != nil {
		c.send(outMsg{Type: "error", Code: "ai_match", Error: err.Error()})
		return
	}
	c.send(outMsg{Type: "state", Session: sess})
}

func (s *Server) handleSpectate(ctx context.Context, c *client, m inMsg) {
	sess, err := s.eng.Session(ctx, m.SessionID)
	if err != nil {
		c.send(outMsg{Type: "error", Code: "spectate", Error: err.Error()})
		return
	}
	s.hub.watch(c, sess.ID)
	c.send(outMsg{Type: "state", Session: sess})
}

// markPresence forwards connect/disconnect to every live session the user
// sits in. Dead or unknown sessions are skipped silently.
func (s *Server) markPresence(ctx context.Context, userID string, connected bool) {
	ids, err := s.st.SessionIDsByUser(ctx, userID)
	if err != nil {
		obslog.L().Warn("presence_index_error", zap.String("user_id", userID), zap.Error(err))
		return
	}
	for _, sid := range ids {
		var err error
		if connected {
			err = s.eng.MarkReconnected(ctx, sid, userID)
		} else {
			err = s.eng.MarkDisconnected(ctx, sid, userID)
		}
		if err != nil && !errors.Is(err, engine.ErrSessionNotFound) {
			obslog.L().Warn("presence_error", zap.String("session_id", sid), zap.Error(err))
		}
	}
}

// pushLiveSessions sends the current snapshot of every live session the
// user participates in, so a reconnecting client can resume.
func (s *Server) pushLiveSessions(ctx context.Context, c *client) {
	ids, err := s.st.SessionIDsByUser(ctx, c.id.UserID)
	if err != nil {
		return
	}
	for _, sid := range ids {
		if sess, ok := s.eng.Registry().Snapshot(sid); ok {
			c.send(outMsg{Type: "state", Session: sess})
		}
	}
}
