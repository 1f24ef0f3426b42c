package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tactical-initiative/internal/dice"
	"github.com/DoyleJ11/tactical-initiative/internal/engine"
	"github.com/DoyleJ11/tactical-initiative/internal/room"
	"github.com/DoyleJ11/tactical-initiative/internal/roster"
	"github.com/DoyleJ11/tactical-initiative/internal/store"
	"github.com/DoyleJ11/tactical-initiative/internal/types"
)

var ErrUnknownMessage = errors.New("unknown message type")

// Session is one peer's seat at a table: it owns the peer's store, turns
// client messages into engine commands and queues server messages on Out.
type Session struct {
	actor  engine.Actor
	conn   *room.Conn
	store  *store.Store
	logger *zap.Logger
	out    chan types.ServerMessage
	cancel context.CancelFunc

	mu     sync.Mutex
	roller dice.Roller

	unsubscribe []func()
}

type SessionConfig struct {
	DiceTimeout       time.Duration
	DiceDetectTimeout time.Duration
	Outbox            int
	Logger            *zap.Logger
}

// NewSession joins rm as actor and loads the current combat document.
// cancel is called when the session falls too far behind.
func NewSession(ctx context.Context, rm *room.Room, actor engine.Actor, cfg SessionConfig, cancel context.CancelFunc) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Outbox <= 0 {
		cfg.Outbox = 16
	}

	conn, err := room.Dial(ctx, rm, uuid.NewString(), 64)
	if err != nil {
		return nil, fmt.Errorf("join room: %w", err)
	}

	logger := cfg.Logger.Named("session").With(
		zap.String("room", rm.Code()),
		zap.String("actor", actor.ID),
		zap.String("role", string(actor.Role)),
	)
	s := &Session{
		actor:  actor,
		conn:   conn,
		store:  store.New(conn, store.WithLogger(cfg.Logger)),
		logger: logger,
		out:    make(chan types.ServerMessage, cfg.Outbox),
		cancel: cancel,
		roller: dice.NewLocal(time.Now().UnixNano()),
	}

	s.unsubscribe = append(s.unsubscribe,
		s.store.Subscribe(func(st *engine.CombatState, events []engine.Event) {
			s.push(types.ServerMessage{Type: types.MsgState, State: st, Events: events})
		}),
		conn.SubscribeAll(func(channel string, payload []byte) {
			s.push(types.ServerMessage{Type: types.MsgBroadcast, Channel: channel, Payload: payload})
		}),
	)

	// a successful load reaches the peer through the subscription
	if _, err := s.store.Load(ctx); err != nil {
		// a broken document is overwritten by the next CreateEncounter
		logger.Warn("load combat document", zap.Error(err))
		s.push(types.ServerMessage{Type: types.MsgState})
	}

	go s.detectDice(ctx, cfg.DiceTimeout, cfg.DiceDetectTimeout)
	return s, nil
}

// Out carries messages for the peer, in order.
func (s *Session) Out() <-chan types.ServerMessage { return s.out }

// Done is closed once the room stops serving this session.
func (s *Session) Done() <-chan struct{} { return s.conn.Done() }

func (s *Session) Close(ctx context.Context) error {
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.store.Close()
	if c, ok := s.dice().(interface{ Close() }); ok {
		c.Close()
	}
	return s.conn.Close(ctx)
}

// push queues m without blocking. A peer that cannot keep up is dropped,
// the same way the room drops slow peers.
func (s *Session) push(m types.ServerMessage) {
	select {
	case s.out <- m:
	default:
		s.logger.Warn("dropping slow client")
		s.cancel()
	}
}

func (s *Session) detectDice(ctx context.Context, rollTimeout, detectTimeout time.Duration) {
	local := s.dice()
	r := dice.Available(ctx, s.conn, local, rollTimeout, detectTimeout, s.logger)
	s.mu.Lock()
	s.roller = r
	s.mu.Unlock()
	s.logger.Debug("dice roller", zap.String("roller", r.Name()))
}

func (s *Session) dice() dice.Roller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roller
}

// Handle runs one client message. Errors worth showing the peer are
// queued as error messages.
func (s *Session) Handle(ctx context.Context, m types.ClientMessage) {
	var err error
	switch m.Type {
	case types.MsgCommand:
		if m.Command == nil {
			err = fmt.Errorf("%w: missing command", engine.ErrInvalidInput)
			break
		}
		err = s.command(ctx, *m.Command)
	case types.MsgBroadcast:
		if m.Channel == "" {
			err = fmt.Errorf("%w: missing channel", engine.ErrInvalidInput)
			break
		}
		err = s.conn.Publish(ctx, m.Channel, m.Payload)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
	if err != nil {
		s.push(types.ServerMessage{Type: types.MsgError, Error: err.Error()})
	}
}

func (s *Session) command(ctx context.Context, cmd engine.Command) error {
	if err := s.prepare(ctx, &cmd); err != nil {
		return err
	}

	before := s.store.State()
	events, err := s.store.Apply(ctx, s.actor, cmd)
	if err != nil {
		s.logger.Debug("command rejected", zap.String("command", string(cmd.Type)), zap.Error(err))
		return err
	}
	if events == nil {
		return nil
	}

	if engine.ContainsEvent(events, engine.EvtCombatEnded) && before != nil {
		if err := roster.Save(ctx, s.conn, before.Combatants); err != nil {
			s.logger.Error("save roster", zap.Error(err))
		}
	}
	s.logger.Info("command applied", zap.String("command", string(cmd.Type)), zap.Int("events", len(events)))
	return nil
}

// prepare fills in what the engine expects the caller to supply: new
// combatant ids, AP rolls and the saved roster.
func (s *Session) prepare(ctx context.Context, cmd *engine.Command) error {
	switch cmd.Type {
	case engine.CmdCreateEncounter:
		if len(cmd.Roster) > 0 {
			break
		}
		entries, err := roster.Load(ctx, s.conn)
		if err != nil {
			s.logger.Warn("load roster", zap.Error(err))
		}
		cmd.Roster = roster.Combatants(entries, uuid.NewString)

	case engine.CmdAddCombatant:
		if cmd.Combatant != nil && cmd.Combatant.ID == "" {
			cmd.Combatant.ID = uuid.NewString()
		}

	case engine.CmdCopyCombatant:
		if cmd.NewID == "" {
			cmd.NewID = uuid.NewString()
		}

	case engine.CmdImportTokens:
		for i := range cmd.Tokens {
			if cmd.Tokens[i].CombatantID == "" {
				cmd.Tokens[i].CombatantID = uuid.NewString()
			}
		}

	case engine.CmdRollAP:
		if len(cmd.Rolls) > 0 {
			break
		}
		rolls, err := s.rollAP(ctx)
		if err != nil {
			return err
		}
		cmd.Rolls = rolls
	}
	return nil
}

// rollAP rolls a d6 for every active combatant that has no AP this round.
func (s *Session) rollAP(ctx context.Context) (map[string]int, error) {
	st := s.store.State()
	if st == nil {
		return nil, store.ErrNoEncounter
	}
	if st.Round == nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrWrongPhase, st.Phase)
	}

	roller := s.dice()
	rolls := make(map[string]int)
	for _, c := range st.Combatants {
		if c.Status != engine.StatusActive {
			continue
		}
		if _, ok := st.Round.APCurrent[c.ID]; ok {
			continue
		}
		res, err := roller.Roll(ctx, "1d6", "AP Variance: "+c.Name)
		if err != nil {
			return nil, fmt.Errorf("roll AP for %s: %w", c.Name, err)
		}
		rolls[c.ID] = res.Total
	}
	if len(rolls) == 0 {
		return nil, fmt.Errorf("%w: everyone already has AP", engine.ErrInvalidInput)
	}
	return rolls, nil
}
