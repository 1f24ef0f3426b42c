package roster

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/tactical-initiative/internal/engine"
	"github.com/DoyleJ11/tactical-initiative/internal/metadata"
)

func TestSaveKeepsOnlyPlayers(t *testing.T) {
	ctx := context.Background()
	backend := metadata.NewMemory()

	p := engine.NewCombatant("p1", "Isolde", engine.SidePlayer)
	p.OwnerID = "player-1"
	p.Stats.HPCurrent = 2
	p.Surprised = true
	m := engine.NewCombatant("m1", "Ghoul", engine.SideMonster)

	require.NoError(t, Save(ctx, backend, []engine.Combatant{p, m}))

	entries, err := Load(ctx, backend)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Isolde", entries[0].Name)
	assert.Equal(t, "player-1", entries[0].OwnerID)

	n := 0
	players := Combatants(entries, func() string { n++; return fmt.Sprintf("new-%d", n) })
	require.Len(t, players, 1)
	got := players[0]
	assert.Equal(t, "new-1", got.ID)
	assert.Equal(t, engine.StatusActive, got.Status)
	assert.False(t, got.Surprised)
	assert.Equal(t, p.Stats, got.Stats)
	assert.Equal(t, p.APVariance, got.APVariance)
}

func TestLoadMissingOrBroken(t *testing.T) {
	ctx := context.Background()
	backend := metadata.NewMemory()

	entries, err := Load(ctx, backend)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, backend.Set(ctx, metadata.RosterKey, []byte(`{"not":"a list"}`)))
	entries, err = Load(ctx, backend)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
