// Package roster keeps player character templates between encounters so
// a new fight does not start with re-entering everyone's stats.
package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/tactical-initiative/internal/engine"
	"github.com/DoyleJ11/tactical-initiative/internal/metadata"
)

type Entry struct {
	Name       string             `json:"name"`
	Side       engine.Side        `json:"side"`
	Stats      engine.Stats       `json:"stats"`
	Dex        engine.DexCategory `json:"dexCategory"`
	APBase     int                `json:"apBase"`
	APVariance bool               `json:"apVariance"`
	OwnerID    string             `json:"ownerId,omitempty"`
}

func FromCombatant(c engine.Combatant) Entry {
	return Entry{
		Name:       c.Name,
		Side:       engine.SidePlayer,
		Stats:      c.Stats,
		Dex:        c.Dex,
		APBase:     c.APBase,
		APVariance: c.APVariance,
		OwnerID:    c.OwnerID,
	}
}

// Combatant rebuilds an active, unsurprised player from e under id.
func (e Entry) Combatant(id string) engine.Combatant {
	return engine.Combatant{
		ID:         id,
		Name:       e.Name,
		Side:       engine.SidePlayer,
		Status:     engine.StatusActive,
		Stats:      e.Stats,
		Dex:        e.Dex,
		APBase:     e.APBase,
		APVariance: e.APVariance,
		OwnerID:    e.OwnerID,
	}
}

// Save stores the player combatants of combatants; monsters are skipped.
func Save(ctx context.Context, backend metadata.Backend, combatants []engine.Combatant) error {
	entries := make([]Entry, 0, len(combatants))
	for _, c := range combatants {
		if c.Side == engine.SidePlayer {
			entries = append(entries, FromCombatant(c))
		}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}
	if err := backend.Set(ctx, metadata.RosterKey, raw); err != nil {
		return fmt.Errorf("save roster: %w", err)
	}
	return nil
}

// Load returns the saved roster. A missing or unreadable roster is empty.
func Load(ctx context.Context, backend metadata.Backend) ([]Entry, error) {
	raw, err := backend.Get(ctx, metadata.RosterKey)
	if errors.Is(err, metadata.ErrNotFound) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil || entries == nil {
		return []Entry{}, nil
	}
	return entries, nil
}

// Combatants rebuilds every entry, asking newID for each combatant id.
func Combatants(entries []Entry, newID func() string) []engine.Combatant {
	out := make([]engine.Combatant, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Combatant(newID()))
	}
	return out
}
