package engine

import (
	"cmp"
	"maps"
	"slices"
)

// BuildResolutionOrder returns combatant ids with a locked primary
// declaration in the current cycle, highest current AP first. Equal AP
// means simultaneous; those keep declaration order.
func BuildResolutionOrder(s CombatState) []string {
	if s.Round == nil {
		return []string{}
	}

	type entry struct {
		id string
		ap int
	}
	var declared []entry
	for _, d := range s.Round.Cycle.Declarations {
		if !d.Locked || d.Kind == DeclarationFollowUp {
			continue
		}
		declared = append(declared, entry{id: d.CombatantID, ap: CurrentAP(s, d.CombatantID)})
	}

	slices.SortStableFunc(declared, func(a, b entry) int { return cmp.Compare(b.ap, a.ap) })

	order := make([]string, 0, len(declared))
	for _, e := range declared {
		order = append(order, e.id)
	}
	return order
}

// DeductCycleCosts subtracts the snapshotted cost of every resolved
// declaration, never going below zero.
func DeductCycleCosts(apCurrent map[string]int, declarations []Declaration) map[string]int {
	updated := maps.Clone(apCurrent)
	if updated == nil {
		updated = map[string]int{}
	}
	for _, d := range declarations {
		if !d.Resolved {
			continue
		}
		updated[d.CombatantID] = max(0, updated[d.CombatantID]-d.Cost)
	}
	return updated
}

// DeductCycleMoveCosts adds the move cost of resolved movement actions to
// the per-round movement counter.
func DeductCycleMoveCosts(movesUsed map[string]int, declarations []Declaration) map[string]int {
	updated := maps.Clone(movesUsed)
	if updated == nil {
		updated = map[string]int{}
	}
	for _, d := range declarations {
		if !d.Resolved {
			continue
		}
		if mc := moveCost(d.ActionID); mc > 0 {
			updated[d.CombatantID] += mc
		}
	}
	return updated
}
