package ws

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/kasuganosora/mmosocial/audit"
	"github.com/kasuganosora/mmosocial/game/apperr"
	"github.com/kasuganosora/mmosocial/game/player"
	"go.uber.org/zap"
)

// HandlerFunc processes a decoded WS message payload.
type HandlerFunc func(ctx context.Context, session *player.PlayerSession, payload json.RawMessage) error

// Router dispatches incoming WS packets to registered handlers.
type Router struct {
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

// NewRouter creates a new Router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// On registers a HandlerFunc for the given message type.
func (r *Router) On(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

// Dispatch decodes raw bytes, validates seq, and invokes the appropriate
// handler. A handler error is answered with an "error" packet carrying the
// request seq.
func (r *Router) Dispatch(ctx context.Context, s *player.PlayerSession, raw []byte) {
	var pkt player.Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.logger.Warn("malformed packet",
			zap.Int64("player_id", s.PlayerID),
			zap.Error(err))
		return
	}

	// Monotonic seq check (anti-replay). Seq == 0 means no seq tracking.
	if pkt.Seq != 0 && pkt.Seq <= s.LastSeq {
		r.logger.Warn("replayed or out-of-order packet",
			zap.Int64("player_id", s.PlayerID),
			zap.Uint64("seq", pkt.Seq),
			zap.Uint64("last_seq", s.LastSeq))
		return
	}
	if pkt.Seq != 0 {
		s.LastSeq = pkt.Seq
	}

	s.TraceID = uuid.NewString()
	ctx = audit.WithRequest(ctx, s.TraceID, s.RemoteIP)
	ctx = context.WithValue(ctx, ctxKeySeq{}, pkt.Seq)

	fn, ok := r.handlers[pkt.Type]
	if !ok {
		r.logger.Debug("unhandled message type",
			zap.String("type", pkt.Type),
			zap.Int64("player_id", s.PlayerID))
		return
	}

	if err := fn(ctx, s, pkt.Payload); err != nil {
		ae := apperr.From(err)
		if ae == apperr.ErrInternal {
			r.logger.Error("handler error",
				zap.String("type", pkt.Type),
				zap.Int64("player_id", s.PlayerID),
				zap.String("trace_id", s.TraceID),
				zap.Error(err))
		}
		Reply(ctx, s, "error", errorPayload{Type: pkt.Type, Code: ae.Code, Error: ae.Msg})
	}
}

type errorPayload struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type ctxKeySeq struct{}

// Reply sends a packet answering the request being handled in ctx.
func Reply(ctx context.Context, s *player.PlayerSession, msgType string, payload any) {
	seq, _ := ctx.Value(ctxKeySeq{}).(uint64)
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.Send(&player.Packet{Seq: seq, Type: msgType, Payload: raw})
}
