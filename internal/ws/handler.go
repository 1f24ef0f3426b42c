package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/DoyleJ11/tactical-initiative/internal/engine"
	"github.com/DoyleJ11/tactical-initiative/internal/hub"
	"github.com/DoyleJ11/tactical-initiative/internal/room"
	"github.com/DoyleJ11/tactical-initiative/internal/types"
)

// room codes are minted by POST /rooms
var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

type Options struct {
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	DiceTimeout       time.Duration
	DiceDetectTimeout time.Duration
	OriginPatterns    []string
	Logger            *zap.Logger
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	logger := opts.Logger.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		code := q.Get("code")
		if !codePattern.MatchString(code) {
			http.Error(w, "missing or malformed code", http.StatusBadRequest)
			return
		}
		actor, ok := actorFromQuery(q.Get("player"), q.Get("role"))
		if !ok {
			http.Error(w, "bad role", http.StatusBadRequest)
			return
		}

		rm, err := h.Room(r.Context(), code, true)
		if err != nil || rm == nil {
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			logger.Debug("accept", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		cfg := SessionConfig{
			DiceTimeout:       opts.DiceTimeout,
			DiceDetectTimeout: opts.DiceDetectTimeout,
			Logger:            opts.Logger,
		}
		sess, err := NewSession(ctx, rm, actor, cfg, cancel)
		if errors.Is(err, room.ErrClosed) {
			// the room went idle and closed before we joined; reopen it
			if rm, err = h.Room(ctx, code, true); err == nil {
				sess, err = NewSession(ctx, rm, actor, cfg, cancel)
			}
		}
		if err != nil {
			logger.Warn("start session", zap.String("room", code), zap.Error(err))
			conn.Close(websocket.StatusTryAgainLater, "room closed")
			return
		}
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
			defer closeCancel()
			_ = sess.Close(closeCtx)
		}()

		// Writer goroutine
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case <-sess.Done():
					return
				case msg := <-sess.Out():
					payload, err := json.Marshal(msg)
					if err != nil {
						logger.Error("encode message", zap.Error(err))
						continue
					}
					wctx, wcancel := context.WithTimeout(ctx, opts.WriteTimeout)
					err = conn.Write(wctx, websocket.MessageText, payload)
					wcancel()
					if err != nil {
						return
					}
				}
			}
		}()

		// Reader loop
		for {
			rctx, rcancel := context.WithTimeout(ctx, opts.IdleTimeout)
			_, data, err := conn.Read(rctx)
			rcancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if !errors.Is(err, context.Canceled) {
						logger.Debug("read", zap.Error(err))
					}
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				sess.push(types.ServerMessage{Type: types.MsgError, Error: "bad json"})
				continue
			}
			sess.Handle(ctx, cm)
		}
	}
}

// actorFromQuery trusts the caller-supplied identity. A missing player id
// gets a fresh one.
func actorFromQuery(player, role string) (engine.Actor, bool) {
	if role == "" {
		role = string(engine.RolePlayer)
	}
	a := engine.Actor{ID: player, Role: engine.Role(role)}
	if !a.Role.Valid() {
		return engine.Actor{}, false
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return a, true
}
