package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/tactical-initiative/internal/engine"
	"github.com/DoyleJ11/tactical-initiative/internal/metadata"
)

var (
	gm    = engine.Actor{ID: "gm", Role: engine.RoleGM}
	alice = engine.Actor{ID: "alice", Role: engine.RolePlayer}
)

// recorder collects every state a store publishes.
type recorder struct {
	mu     sync.Mutex
	states []*engine.CombatState
}

func (r *recorder) listen(s *engine.CombatState, _ []engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) all() []*engine.CombatState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*engine.CombatState(nil), r.states...)
}

func roster() []engine.Combatant {
	p := engine.NewCombatant("p", "Pell", engine.SidePlayer)
	p.OwnerID = alice.ID
	return []engine.Combatant{p, engine.NewCombatant("m", "Wolf", engine.SideMonster)}
}

func TestLoadAbsentDocument(t *testing.T) {
	s := New(metadata.NewMemory())
	defer s.Close()

	state, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.Nil(t, s.State())
}

func TestApplyPropagatesToPeers(t *testing.T) {
	ctx := context.Background()
	backend := metadata.NewMemory()
	gmStore := New(backend)
	peer := New(backend)
	defer gmStore.Close()
	defer peer.Close()

	var own, remote recorder
	gmStore.Subscribe(own.listen)
	peer.Subscribe(remote.listen)

	events, err := gmStore.Apply(ctx, gm, engine.Command{Type: engine.CmdCreateEncounter, Roster: roster()})
	require.NoError(t, err)
	assert.True(t, engine.ContainsEvent(events, engine.EvtEncounterCreated))

	_, err = gmStore.Apply(ctx, gm, engine.Command{Type: engine.CmdStartCombat})
	require.NoError(t, err)

	// the writer hears each write once; its echo is suppressed
	require.Len(t, own.all(), 2)
	assert.Equal(t, engine.PhaseSetup, own.all()[0].Phase)
	assert.Equal(t, engine.PhaseRoundStart, own.all()[1].Phase)

	require.Len(t, remote.all(), 2)
	assert.Equal(t, engine.PhaseRoundStart, remote.all()[1].Phase)
	assert.Equal(t, gmStore.State(), peer.State())

	// a second store loading from scratch sees the same document
	late := New(backend)
	defer late.Close()
	state, err := late.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, engine.PhaseRoundStart, state.Phase)
}

func TestApplyIgnoresForbiddenCommands(t *testing.T) {
	ctx := context.Background()
	backend := metadata.NewMemory()
	s := New(backend)
	defer s.Close()
	_, err := s.Apply(ctx, gm, engine.Command{Type: engine.CmdCreateEncounter, Roster: roster()})
	require.NoError(t, err)
	before, err := backend.Get(ctx, metadata.StateKey)
	require.NoError(t, err)

	var rec recorder
	s.Subscribe(rec.listen)
	events, err := s.Apply(ctx, alice, engine.Command{Type: engine.CmdStartCombat})
	assert.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, rec.all())

	after, err := backend.Get(ctx, metadata.StateKey)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestApplyRejectsInvalidCommands(t *testing.T) {
	ctx := context.Background()
	s := New(metadata.NewMemory())
	defer s.Close()

	_, err := s.Apply(ctx, gm, engine.Command{Type: engine.CmdStartCombat})
	assert.ErrorIs(t, err, ErrNoEncounter)

	_, err = s.Apply(ctx, gm, engine.Command{Type: engine.CmdCreateEncounter, Roster: roster()})
	require.NoError(t, err)
	_, err = s.Apply(ctx, gm, engine.Command{Type: engine.CmdSetAP, CombatantID: "p", AP: 5})
	assert.ErrorIs(t, err, engine.ErrWrongPhase)
	assert.Equal(t, engine.PhaseSetup, s.State().Phase)
}

func TestMalformedDocuments(t *testing.T) {
	ctx := context.Background()
	backend := metadata.NewMemory()
	s := New(backend)
	defer s.Close()
	_, err := s.Apply(ctx, gm, engine.Command{Type: engine.CmdCreateEncounter, Roster: roster()})
	require.NoError(t, err)

	var rec recorder
	s.Subscribe(rec.listen)

	bad := document{Writer: "other", Seq: 1, State: &engine.CombatState{Version: 1, Phase: "intermission"}}
	raw, err := json.Marshal(bad)
	require.NoError(t, err)

	for _, v := range [][]byte{[]byte(`{not json`), raw} {
		require.NoError(t, backend.Set(ctx, metadata.StateKey, v))
		assert.Empty(t, rec.all(), "malformed changes are ignored")
		assert.Equal(t, engine.PhaseSetup, s.State().Phase)

		_, err := New(backend).Load(ctx)
		assert.ErrorIs(t, err, ErrMalformedDocument)
	}
}

// queuedBackend holds change notifications until deliver, handing them
// out in the order the writes happened, the way a room does.
type queuedBackend struct {
	*metadata.Memory
	mu        sync.Mutex
	listeners []func([]byte)
	queue     [][]byte
}

func newQueuedBackend() *queuedBackend {
	return &queuedBackend{Memory: metadata.NewMemory()}
}

func (q *queuedBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := q.Memory.Set(ctx, key, value); err != nil {
		return err
	}
	q.mu.Lock()
	q.queue = append(q.queue, value)
	q.mu.Unlock()
	return nil
}

func (q *queuedBackend) OnChange(_ string, fn func([]byte)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
	return func() {}
}

func (q *queuedBackend) deliver() {
	q.mu.Lock()
	queue, listeners := q.queue, append([]func([]byte){}, q.listeners...)
	q.queue = nil
	q.mu.Unlock()
	for _, raw := range queue {
		for _, fn := range listeners {
			fn(raw)
		}
	}
}

func (q *queuedBackend) stored(t *testing.T) string {
	t.Helper()
	raw, err := q.Get(context.Background(), metadata.StateKey)
	require.NoError(t, err)
	st, err := Decode(raw)
	require.NoError(t, err)
	return st.GMID
}

// encounter returns a document told apart from others by its GM id.
func encounter(tag string) engine.CombatState {
	return engine.NewEncounter(tag, roster())
}

func TestPeersConvergeOnLastWrite(t *testing.T) {
	ctx := context.Background()
	backend := newQueuedBackend()
	a, b := New(backend), New(backend)

	require.NoError(t, a.Save(ctx, encounter("x")))
	require.NoError(t, b.Save(ctx, encounter("y")))
	backend.deliver()

	assert.Equal(t, "y", backend.stored(t))
	assert.Equal(t, "y", a.State().GMID)
	assert.Equal(t, "y", b.State().GMID, "own write landing after another peer's wins again")
}

func TestPeersConvergeWhenAWriterFallsBehind(t *testing.T) {
	ctx := context.Background()
	backend := newQueuedBackend()
	a, b, c := New(backend), New(backend), New(backend)

	var seenByB recorder
	b.Subscribe(seenByB.listen)

	require.NoError(t, b.Save(ctx, encounter("y1")))
	require.NoError(t, b.Save(ctx, encounter("y2")))
	require.NoError(t, a.Save(ctx, encounter("x")))
	backend.deliver()

	assert.Equal(t, "x", backend.stored(t))
	for name, s := range map[string]*Store{"a": a, "b": b, "c": c} {
		assert.Equal(t, "x", s.State().GMID, name)
	}

	// b never steps back to y1 while its own later write is in flight
	var tags []string
	for _, st := range seenByB.all() {
		tags = append(tags, st.GMID)
	}
	assert.Equal(t, []string{"y1", "y2", "x"}, tags)
}

func TestOwnEchoIsSuppressed(t *testing.T) {
	ctx := context.Background()
	backend := newQueuedBackend()
	s := New(backend)

	var rec recorder
	s.Subscribe(rec.listen)
	require.NoError(t, s.Save(ctx, encounter("x")))
	backend.deliver()

	assert.Len(t, rec.all(), 1)
	assert.Equal(t, "x", s.State().GMID)
}

func TestClearEndsEncounterForPeers(t *testing.T) {
	ctx := context.Background()
	backend := metadata.NewMemory()
	s := New(backend)
	peer := New(backend)
	defer s.Close()
	defer peer.Close()

	_, err := s.Apply(ctx, gm, engine.Command{Type: engine.CmdCreateEncounter, Roster: roster()})
	require.NoError(t, err)
	require.NotNil(t, peer.State())

	var rec recorder
	peer.Subscribe(rec.listen)
	require.NoError(t, s.Clear(ctx))

	assert.Nil(t, s.State())
	assert.Nil(t, peer.State())
	require.Len(t, rec.all(), 1)
	assert.Nil(t, rec.all()[0])

	state, err := New(backend).Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	ctx := context.Background()
	s := New(metadata.NewMemory())
	defer s.Close()

	var rec recorder
	unsubscribe := s.Subscribe(rec.listen)
	require.NoError(t, s.Save(ctx, engine.NewEncounter("gm", nil)))
	unsubscribe()
	require.NoError(t, s.Clear(ctx))

	assert.Len(t, rec.all(), 1)
}

func TestSubscribersGetCopies(t *testing.T) {
	ctx := context.Background()
	s := New(metadata.NewMemory())
	defer s.Close()

	s.Subscribe(func(st *engine.CombatState, _ []engine.Event) { st.Combatants[0].Name = "mutated" })
	require.NoError(t, s.Save(ctx, engine.NewEncounter("gm", roster())))
	assert.Equal(t, "Pell", s.State().Combatants[0].Name)
}

type failingBackend struct {
	*metadata.Memory
	err error
}

func (f failingBackend) Set(context.Context, string, []byte) error { return f.err }

func TestSaveReportsBackendErrors(t *testing.T) {
	boom := errors.New("room gone")
	s := New(failingBackend{Memory: metadata.NewMemory(), err: boom})
	defer s.Close()

	err := s.Save(context.Background(), engine.NewEncounter("gm", nil))
	assert.ErrorIs(t, err, boom)
	assert.NotNil(t, s.State(), "local state stays optimistic")
}

func TestSyncRereadsBackend(t *testing.T) {
	ctx := context.Background()
	backend := metadata.NewMemory()
	s := New(backend)
	defer s.Close()
	s.Close() // stop following changes

	other := New(backend)
	defer other.Close()
	require.NoError(t, other.Save(ctx, engine.NewEncounter("gm", roster())))
	assert.Nil(t, s.State())

	require.NoError(t, s.Sync(ctx))
	require.NotNil(t, s.State())
	assert.Len(t, s.State().Combatants, 2)
}

func TestDecode(t *testing.T) {
	ctx := context.Background()
	backend := metadata.NewMemory()
	s := New(backend)
	defer s.Close()

	_, err := s.Apply(ctx, gm, engine.Command{Type: engine.CmdCreateEncounter, Roster: roster()})
	require.NoError(t, err)

	raw, err := backend.Get(ctx, metadata.StateKey)
	require.NoError(t, err)
	st, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, engine.PhaseSetup, st.Phase)

	_, err = Decode([]byte(`{`))
	assert.ErrorIs(t, err, ErrMalformedDocument)
}

func TestListenersGetEventsOfLocalApply(t *testing.T) {
	ctx := context.Background()
	backend := metadata.NewMemory()
	s, peer := New(backend), New(backend)
	defer s.Close()
	defer peer.Close()

	var own, remote [][]engine.Event
	s.Subscribe(func(_ *engine.CombatState, events []engine.Event) { own = append(own, events) })
	peer.Subscribe(func(_ *engine.CombatState, events []engine.Event) { remote = append(remote, events) })

	events, err := s.Apply(ctx, gm, engine.Command{Type: engine.CmdCreateEncounter, Roster: roster()})
	require.NoError(t, err)

	require.Len(t, own, 1, "one notification per command")
	assert.Equal(t, events, own[0])
	require.Len(t, remote, 1)
	assert.Empty(t, remote[0])
}
