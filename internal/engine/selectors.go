package engine

import "slices"

// MoveAllowance is the number of move points a combatant has per round.
const MoveAllowance = 2

func ActiveCombatants(s CombatState) []Combatant {
	return filterCombatants(s, func(c Combatant) bool { return c.Status == StatusActive })
}

func PlayerCombatants(s CombatState) []Combatant {
	return filterCombatants(s, func(c Combatant) bool { return c.Side == SidePlayer })
}

func MonsterCombatants(s CombatState) []Combatant {
	return filterCombatants(s, func(c Combatant) bool { return c.Side == SideMonster })
}

func filterCombatants(s CombatState, keep func(Combatant) bool) []Combatant {
	out := []Combatant{}
	for _, c := range s.Combatants {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func CombatantByID(s CombatState, id string) (Combatant, bool) {
	for _, c := range s.Combatants {
		if c.ID == id {
			return c, true
		}
	}
	return Combatant{}, false
}

// CanControl reports whether actor may declare for and edit c. The GM runs
// monsters and any player character nobody owns.
func CanControl(actor Actor, c Combatant) bool {
	if c.OwnerID != "" && c.OwnerID == actor.ID {
		return true
	}
	if !actor.IsGM() {
		return false
	}
	switch c.Side {
	case SideMonster:
		return true
	case SidePlayer:
		return c.OwnerID == ""
	}
	return false
}

func CurrentAP(s CombatState, id string) int {
	if s.Round == nil {
		return 0
	}
	return s.Round.APCurrent[id]
}

func HasAP(s CombatState, id string) bool {
	if s.Round == nil {
		return false
	}
	_, ok := s.Round.APCurrent[id]
	return ok
}

func RemainingMoves(s CombatState, id string) int {
	if s.Round == nil {
		return MoveAllowance
	}
	return max(0, MoveAllowance-s.Round.MovesUsed[id])
}

func IsDoneForRound(s CombatState, id string) bool {
	return s.Round != nil && slices.Contains(s.Round.DoneForRound, id)
}

func IsWaiting(s CombatState, id string) bool {
	return s.Round != nil && slices.Contains(s.Round.Cycle.Waiting, id)
}

func PrimaryDeclaration(s CombatState, id string) (Declaration, bool) {
	return findDeclaration(s, id, DeclarationPrimary)
}

func FollowUpDeclaration(s CombatState, id string) (Declaration, bool) {
	return findDeclaration(s, id, DeclarationFollowUp)
}

func findDeclaration(s CombatState, id string, kind DeclarationKind) (Declaration, bool) {
	if s.Round == nil {
		return Declaration{}, false
	}
	for _, d := range s.Round.Cycle.Declarations {
		if d.CombatantID == id && d.Kind == kind {
			return d, true
		}
	}
	return Declaration{}, false
}

// AllDeclarationsLocked gates the move to resolution: every active
// combatant is done for the round, out of AP, or has a locked declaration.
func AllDeclarationsLocked(s CombatState) bool {
	if s.Round == nil {
		return false
	}
	for _, c := range ActiveCombatants(s) {
		if IsDoneForRound(s, c.ID) || CurrentAP(s, c.ID) < 1 {
			continue
		}
		d, ok := PrimaryDeclaration(s, c.ID)
		if !ok || !d.Locked {
			return false
		}
	}
	return true
}

// AnyoneCanAct reports whether some active combatant still in the round
// has at least one AP.
func AnyoneCanAct(s CombatState) bool {
	for _, c := range ActiveCombatants(s) {
		if IsDoneForRound(s, c.ID) {
			continue
		}
		if CurrentAP(s, c.ID) >= 1 {
			return true
		}
	}
	return false
}

// AffordableActions lists non-terminal actions within the combatant's AP
// and move budget.
func AffordableActions(s CombatState, id string) []ActionDefinition {
	return actionsWithin(CurrentAP(s, id), RemainingMoves(s, id), ActionDone)
}

func actionsWithin(apBudget, moveBudget int, exclude ...ActionID) []ActionDefinition {
	out := []ActionDefinition{}
	for _, a := range Actions() {
		if slices.Contains(exclude, a.ID) {
			continue
		}
		if a.Cost <= apBudget && a.MoveCost <= moveBudget {
			out = append(out, a)
		}
	}
	return out
}

// FollowUpActions lists what a waiting combatant can trigger: anything but
// wait and done, paid from AP left after the wait itself.
func FollowUpActions(s CombatState, id string) []ActionDefinition {
	wait := catalogByID[ActionWait]
	return actionsWithin(CurrentAP(s, id)-wait.Cost, RemainingMoves(s, id), ActionWait, ActionDone)
}

// CanAffordWait is true when the combatant can pay for a wait and still
// afford the cheapest follow-up.
func CanAffordWait(s CombatState, id string) bool {
	wait := catalogByID[ActionWait]
	ap := CurrentAP(s, id)
	if ap < wait.Cost {
		return false
	}
	return len(FollowUpActions(s, id)) > 0
}

func AllAPAssigned(s CombatState) bool {
	for _, c := range ActiveCombatants(s) {
		if !HasAP(s, c.ID) {
			return false
		}
	}
	return true
}

func CanStartCombat(s CombatState) bool {
	var player, monster bool
	for _, c := range ActiveCombatants(s) {
		switch c.Side {
		case SidePlayer:
			player = true
		case SideMonster:
			monster = true
		}
	}
	return player && monster
}

func ResolutionOrder(s CombatState) []string {
	if s.Round == nil {
		return []string{}
	}
	return slices.Clone(s.Round.Cycle.ResolutionOrder)
}

// CurrentResolver returns the combatant whose declaration resolves next.
func CurrentResolver(s CombatState) (string, bool) {
	if s.Round == nil {
		return "", false
	}
	c := s.Round.Cycle
	if c.Cursor < 0 || c.Cursor >= len(c.ResolutionOrder) {
		return "", false
	}
	return c.ResolutionOrder[c.Cursor], true
}

func ResolutionComplete(s CombatState) bool {
	if s.Round == nil {
		return false
	}
	return s.Round.Cycle.Cursor >= len(s.Round.Cycle.ResolutionOrder)
}
