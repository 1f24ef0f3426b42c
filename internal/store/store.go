// Package store keeps one peer's view of the shared combat document and
// writes commands through to the room's metadata.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tactical-initiative/internal/engine"
	"github.com/DoyleJ11/tactical-initiative/internal/metadata"
)

var ErrMalformedDocument = errors.New("malformed combat document")
var ErrNoEncounter = errors.New("no active encounter")

// document is what is written under the state key. Writer and Seq let a
// store recognise the echo of its own write.
type document struct {
	Writer string              `json:"writer"`
	Seq    uint64              `json:"seq"`
	State  *engine.CombatState `json:"state"`
}

// Listener receives every state change. events is set only for the local
// write that produced them.
type Listener func(state *engine.CombatState, events []engine.Event)

type Store struct {
	backend metadata.Backend
	key     string
	writer  string
	logger  *zap.Logger
	tracer  trace.Tracer

	// applyMu makes read-apply-write atomic for this store.
	applyMu sync.Mutex

	mu    sync.Mutex
	seq   uint64
	state *engine.CombatState
	// ownSeq is the seq of our write that state holds, or 0 once state
	// came from anyone else.
	ownSeq    uint64
	listeners map[int]Listener
	nextID    int

	// notifyMu keeps deliveries in write order. It is taken before mu is
	// released.
	notifyMu sync.Mutex

	unsubscribe func()
}

type Option func(*Store)

func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New attaches a store to backend and starts following remote changes.
func New(backend metadata.Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		key:       metadata.StateKey,
		writer:    uuid.NewString(),
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("github.com/DoyleJ11/tactical-initiative/internal/store"),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("store").With(zap.String("writer", s.writer))
	s.unsubscribe = backend.OnChange(s.key, s.handleChange)
	return s
}

func (s *Store) Close() {
	s.unsubscribe()
}

// State returns a copy of the current document, or nil when there is no
// active encounter.
func (s *Store) State() *engine.CombatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.state)
}

// Subscribe registers fn for every state change, local or remote. fn runs
// on the writer's goroutine and must not write to the store.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Load reads the document from the backend. An absent document is not an
// error: it returns nil, nil.
func (s *Store) Load(ctx context.Context) (*engine.CombatState, error) {
	raw, err := s.backend.Get(ctx, s.key)
	if errors.Is(err, metadata.ErrNotFound) {
		raw, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.key, err)
	}

	var doc document
	if raw != nil {
		if doc, err = decode(raw); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.ownSeq = 0
	s.state = doc.State
	s.publishLocked(nil)
	return cloneState(doc.State), nil
}

// Sync re-reads the backend, for peers that may have missed changes.
func (s *Store) Sync(ctx context.Context) error {
	_, err := s.Load(ctx)
	return err
}

// Save replaces the document. Subscribers see the new state before the
// backend write completes.
func (s *Store) Save(ctx context.Context, state engine.CombatState) error {
	return s.write(ctx, &state, nil)
}

// Clear ends the encounter for everyone in the room.
func (s *Store) Clear(ctx context.Context) error {
	return s.write(ctx, nil, nil)
}

func (s *Store) write(ctx context.Context, state *engine.CombatState, events []engine.Event) error {
	state = cloneState(state)

	s.mu.Lock()
	s.seq++
	doc := document{Writer: s.writer, Seq: s.seq, State: state}
	raw, err := json.Marshal(doc)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("encode document: %w", err)
	}
	s.ownSeq = doc.Seq
	s.state = state
	s.publishLocked(events)

	if err := s.backend.Set(ctx, s.key, raw); err != nil {
		return fmt.Errorf("save %s: %w", s.key, err)
	}
	return nil
}

// Apply runs cmd against the current document and saves the result.
// Commands the actor is not allowed to issue are dropped without error.
func (s *Store) Apply(ctx context.Context, actor engine.Actor, cmd engine.Command) ([]engine.Event, error) {
	ctx, span := s.tracer.Start(ctx, "store.Apply", trace.WithAttributes(
		attribute.String("command", string(cmd.Type)),
		attribute.String("actor.role", string(actor.Role)),
	))
	defer span.End()

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	var (
		events []engine.Event
		next   engine.CombatState
		err    error
	)
	cur := s.State()
	switch {
	case cur != nil:
		events, next, err = engine.Apply(*cur, actor, cmd)
	case cmd.Type == engine.CmdCreateEncounter:
		events, next, err = engine.StartEncounter(actor, cmd.Roster)
	default:
		err = ErrNoEncounter
	}

	if errors.Is(err, engine.ErrNotPermitted) {
		s.logger.Debug("command not permitted",
			zap.String("command", string(cmd.Type)),
			zap.String("actor", actor.ID))
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.write(ctx, &next, events); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return events, err
	}
	span.SetAttributes(attribute.Int("events", len(events)), attribute.String("phase", string(next.Phase)))
	return events, nil
}

func (s *Store) handleChange(raw []byte) {
	var doc document
	if raw != nil {
		var err error
		if doc, err = decode(raw); err != nil {
			s.logger.Warn("ignoring malformed document", zap.Error(err))
			return
		}
	}

	s.mu.Lock()
	if raw != nil && doc.Writer == s.writer && s.ownSeq >= doc.Seq {
		// state already holds this write or a later one of ours, which
		// the backend delivers after this echo
		s.mu.Unlock()
		return
	}
	// changes arrive in backend order, so the newest one always wins,
	// including our own write landing after someone else's
	if doc.Writer == s.writer {
		s.ownSeq = doc.Seq
	} else {
		s.ownSeq = 0
	}
	s.state = doc.State
	s.publishLocked(nil)
}

// publishLocked is called with mu held and releases it.
func (s *Store) publishLocked(events []engine.Event) {
	state := s.state
	listeners := make([]Listener, 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, fn := range listeners {
		fn(cloneState(state), slices.Clone(events))
	}
}

// Decode reads the combat state out of a stored document. The state is nil
// when the document was cleared.
func Decode(raw []byte) (*engine.CombatState, error) {
	doc, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return doc.State, nil
}

func decode(raw []byte) (document, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return document{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if doc.State != nil {
		if err := doc.State.Validate(); err != nil {
			return document{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}
	}
	return doc, nil
}

func cloneState(s *engine.CombatState) *engine.CombatState {
	if s == nil {
		return nil
	}
	c := s.Clone()
	return &c
}
