package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/tactical-initiative/internal/engine"
	"github.com/DoyleJ11/tactical-initiative/internal/metadata"
	"github.com/DoyleJ11/tactical-initiative/internal/store"
)

func dial(t *testing.T, r *Room, id string) *Conn {
	t.Helper()
	c, err := Dial(context.Background(), r, id, 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestConnGetSet(t *testing.T) {
	ctx := context.Background()
	r := NewRoom(ctx, "R1", nil, nil, nil)
	defer func() { r.Inbox() <- Shutdown{} }()
	c := dial(t, r, "p1")

	_, err := c.Get(ctx, metadata.StateKey)
	require.ErrorIs(t, err, metadata.ErrNotFound)

	changed := make(chan []byte, 1)
	c.OnChange(metadata.StateKey, func(v []byte) { changed <- v })

	require.NoError(t, c.Set(ctx, metadata.StateKey, []byte(`{"x":1}`)))
	v, err := c.Get(ctx, metadata.StateKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(v))

	select {
	case got := <-changed:
		assert.JSONEq(t, `{"x":1}`, string(got))
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}
}

func TestConnBroadcast(t *testing.T) {
	ctx := context.Background()
	r := NewRoom(ctx, "R1", nil, nil, nil)
	defer func() { r.Inbox() <- Shutdown{} }()
	a := dial(t, r, "a")
	b := dial(t, r, "b")

	got := make(chan string, 2)
	b.Subscribe("chan", func(p []byte) { got <- "sub:" + string(p) })
	b.SubscribeAll(func(ch string, p []byte) { got <- ch + ":" + string(p) })
	a.Subscribe("chan", func([]byte) { t.Error("sender must not hear itself") })

	require.NoError(t, a.Publish(ctx, "chan", []byte(`hi`)))
	for _, want := range []string{"sub:hi", "chan:hi"} {
		select {
		case g := <-got:
			assert.Equal(t, want, g)
		case <-time.After(time.Second):
			t.Fatal("broadcast not delivered")
		}
	}
}

func TestConnDoneAfterShutdown(t *testing.T) {
	ctx := context.Background()
	r := NewRoom(ctx, "R1", nil, nil, nil)
	c := dial(t, r, "p1")
	r.Inbox() <- Shutdown{}

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("conn not done after room shutdown")
	}
	assert.NoError(t, c.Close(ctx))
	assert.ErrorIs(t, c.Set(ctx, "k", []byte(`1`)), ErrClosed)
}

// Two peers with their own stores stay in sync through the room.
func TestStoresSyncThroughRoom(t *testing.T) {
	ctx := context.Background()
	r := NewRoom(ctx, "R1", nil, nil, nil)
	defer func() { r.Inbox() <- Shutdown{} }()

	gmStore := store.New(dial(t, r, "gm"))
	playerStore := store.New(dial(t, r, "player"))
	defer gmStore.Close()
	defer playerStore.Close()

	var mu sync.Mutex
	var gmSeen int
	gmStore.Subscribe(func(*engine.CombatState, []engine.Event) { mu.Lock(); gmSeen++; mu.Unlock() })

	seen := make(chan engine.Phase, 4)
	playerStore.Subscribe(func(s *engine.CombatState, _ []engine.Event) {
		if s != nil {
			seen <- s.Phase
		}
	})

	gm := engine.Actor{ID: "gm", Role: engine.RoleGM}
	roster := []engine.Combatant{
		engine.NewCombatant("p", "Pell", engine.SidePlayer),
		engine.NewCombatant("m", "Wolf", engine.SideMonster),
	}
	_, err := gmStore.Apply(ctx, gm, engine.Command{Type: engine.CmdCreateEncounter, Roster: roster})
	require.NoError(t, err)
	_, err = gmStore.Apply(ctx, gm, engine.Command{Type: engine.CmdStartCombat})
	require.NoError(t, err)

	for _, want := range []engine.Phase{engine.PhaseSetup, engine.PhaseRoundStart} {
		select {
		case got := <-seen:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("player never saw %s", want)
		}
	}

	// let the gm's own echoes arrive; they must not notify again
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 2, gmSeen)
	mu.Unlock()
}

// Two writers and a reader settle on whatever the room holds last.
func TestStoresConvergeThroughRoom(t *testing.T) {
	ctx := context.Background()
	r := NewRoom(ctx, "R1", nil, nil, nil)
	defer func() { r.Inbox() <- Shutdown{} }()

	a := store.New(dial(t, r, "a"))
	b := store.New(dial(t, r, "b"))
	c := store.New(dial(t, r, "c"))
	defer a.Close()
	defer b.Close()
	defer c.Close()

	encounter := func(tag string) engine.CombatState {
		return engine.NewEncounter(tag, []engine.Combatant{engine.NewCombatant("p", "Pell", engine.SidePlayer)})
	}

	require.NoError(t, b.Save(ctx, encounter("y1")))
	require.NoError(t, b.Save(ctx, encounter("y2")))
	require.NoError(t, a.Save(ctx, encounter("x")))
	require.NoError(t, b.Save(ctx, encounter("y3")))
	require.NoError(t, a.Save(ctx, encounter("x2")))

	reply := make(chan View, 1)
	r.Inbox() <- GetView{Reply: reply}
	held, err := store.Decode((<-reply).Metadata[metadata.StateKey])
	require.NoError(t, err)
	require.Equal(t, "x2", held.GMID)

	for name, s := range map[string]*store.Store{"a": a, "b": b, "c": c} {
		assert.Eventually(t, func() bool {
			st := s.State()
			return st != nil && st.GMID == held.GMID
		}, time.Second, 5*time.Millisecond, name)
	}
}
