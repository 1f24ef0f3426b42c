package engine

import (
	"fmt"
	"slices"
	"strings"
)

const MaxAP = 20

// normalizeCombatant fills defaults and rejects values no form should
// have been able to produce.
func normalizeCombatant(c Combatant) (Combatant, error) {
	c.ID = strings.TrimSpace(c.ID)
	c.Name = strings.TrimSpace(c.Name)
	if c.ID == "" {
		return c, fmt.Errorf("%w: missing combatant id", ErrInvalidInput)
	}
	if c.Name == "" {
		c.Name = "Unknown"
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	if c.Dex == "" {
		c.Dex = DexStandard
	}
	if !c.Side.Valid() || !c.Status.Valid() || !c.Dex.Valid() {
		return c, fmt.Errorf("%w: side %q status %q dex %q", ErrInvalidInput, c.Side, c.Status, c.Dex)
	}
	if c.Side == SideMonster {
		c.OwnerID = ""
	}
	return c, validateNumbers(c)
}

func validateNumbers(c Combatant) error {
	switch {
	case c.Stats.HPMax < 1:
		return fmt.Errorf("%w: max hp %d", ErrInvalidInput, c.Stats.HPMax)
	case c.Stats.HPCurrent < 0 || c.Stats.HPCurrent > c.Stats.HPMax:
		return fmt.Errorf("%w: hp %d of %d", ErrInvalidInput, c.Stats.HPCurrent, c.Stats.HPMax)
	case c.APBase < 0 || c.APBase > MaxAP:
		return fmt.Errorf("%w: base ap %d", ErrInvalidInput, c.APBase)
	}
	return nil
}

func addCombatant(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if s.Phase == PhaseCombatEnd {
		return nil, fmt.Errorf("%w: %s", ErrWrongPhase, s.Phase)
	}
	if cmd.Combatant == nil {
		return nil, fmt.Errorf("%w: missing combatant", ErrInvalidInput)
	}

	c, err := normalizeCombatant(*cmd.Combatant)
	if err != nil {
		return nil, err
	}
	if s.combatantIndex(c.ID) >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCombatant, c.ID)
	}

	s.Combatants = append(s.Combatants, c)
	return []Event{{Type: EvtCombatantAdded, CombatantID: c.ID}}, nil
}

// removeCombatant drops the combatant and everything the round knows
// about it. The resolution cursor keeps pointing at the same next entry.
func removeCombatant(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	i := s.combatantIndex(cmd.CombatantID)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCombatant, cmd.CombatantID)
	}
	id := cmd.CombatantID
	s.Combatants = slices.Delete(s.Combatants, i, i+1)

	if r := s.Round; r != nil {
		delete(r.APRolls, id)
		delete(r.APCurrent, id)
		delete(r.MovesUsed, id)
		r.DoneForRound = removeID(r.DoneForRound, id)
		r.Cycle.Waiting = removeID(r.Cycle.Waiting, id)
		r.Cycle.Declarations = slices.DeleteFunc(r.Cycle.Declarations, func(d Declaration) bool {
			return d.CombatantID == id
		})
		if pos := slices.Index(r.Cycle.ResolutionOrder, id); pos >= 0 {
			r.Cycle.ResolutionOrder = slices.Delete(r.Cycle.ResolutionOrder, pos, pos+1)
			if pos < r.Cycle.Cursor {
				r.Cycle.Cursor--
			}
		}
	}
	return []Event{{Type: EvtCombatantRemoved, CombatantID: id}}, nil
}

// editCombatant applies a patch. Owners may change name and stats; only
// the GM may touch AP settings, surprise and ownership. Fields the actor
// may not change are ignored.
func editCombatant(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	c, err := s.combatant(cmd.CombatantID)
	if err != nil {
		return nil, err
	}
	if !actor.IsGM() && (c.OwnerID == "" || c.OwnerID != actor.ID) {
		return nil, ErrNotPermitted
	}
	if cmd.Patch == nil {
		return nil, fmt.Errorf("%w: missing patch", ErrInvalidInput)
	}

	p := cmd.Patch
	updated := *c
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidInput)
		}
		updated.Name = name
	}
	if p.HPMax != nil {
		updated.Stats.HPMax = *p.HPMax
		if p.HPCurrent == nil {
			updated.Stats.HPCurrent = min(updated.Stats.HPCurrent, updated.Stats.HPMax)
		}
	}
	if p.HPCurrent != nil {
		updated.Stats.HPCurrent = *p.HPCurrent
	}
	if p.AC != nil {
		updated.Stats.AC = *p.AC
	}
	if p.THAC0 != nil {
		updated.Stats.THAC0 = *p.THAC0
	}
	if p.Dex != nil {
		if !p.Dex.Valid() {
			return nil, fmt.Errorf("%w: dex %q", ErrInvalidInput, *p.Dex)
		}
		updated.Dex = *p.Dex
	}
	if actor.IsGM() {
		if p.APBase != nil {
			updated.APBase = *p.APBase
		}
		if p.APVariance != nil {
			updated.APVariance = *p.APVariance
		}
		if p.Surprised != nil {
			updated.Surprised = *p.Surprised
		}
		if p.OwnerID != nil && updated.Side == SidePlayer {
			updated.OwnerID = strings.TrimSpace(*p.OwnerID)
		}
	}
	if err := validateNumbers(updated); err != nil {
		return nil, err
	}

	*c = updated
	return []Event{{Type: EvtCombatantUpdated, CombatantID: c.ID}}, nil
}

func toggleStatus(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	c, err := s.combatant(cmd.CombatantID)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusActive {
		c.Status = StatusIncapacitated
	} else {
		c.Status = StatusActive
	}
	return []Event{{Type: EvtCombatantUpdated, CombatantID: c.ID}}, nil
}

func setStatus(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if !cmd.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, cmd.Status)
	}
	c, err := s.combatant(cmd.CombatantID)
	if err != nil {
		return nil, err
	}
	c.Status = cmd.Status
	return []Event{{Type: EvtCombatantUpdated, CombatantID: c.ID}}, nil
}

// copyCombatant duplicates a combatant at full health under the next free
// numbered name ("Goblin" -> "Goblin 2").
func copyCombatant(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	src, err := s.combatant(cmd.CombatantID)
	if err != nil {
		return nil, err
	}
	newID := strings.TrimSpace(cmd.NewID)
	if newID == "" {
		return nil, fmt.Errorf("%w: missing new id", ErrInvalidInput)
	}
	if s.combatantIndex(newID) >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCombatant, newID)
	}

	names := make([]string, 0, len(s.Combatants))
	for _, c := range s.Combatants {
		names = append(names, c.Name)
	}
	cp := *src
	cp.ID = newID
	cp.Name = NextCopyName(src.Name, names)
	cp.Stats.HPCurrent = cp.Stats.HPMax
	cp.TokenID = ""

	s.Combatants = append(s.Combatants, cp)
	return []Event{{Type: EvtCombatantAdded, CombatantID: newID}}, nil
}

// importTokens adds map tokens as monsters during setup. Tokens already
// linked to a combatant are skipped.
func importTokens(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if err := requirePhase(s, PhaseSetup); err != nil {
		return nil, err
	}

	var events []Event
	for _, t := range cmd.Tokens {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: token without id", ErrInvalidInput)
		}
		if slices.ContainsFunc(s.Combatants, func(c Combatant) bool { return c.TokenID == t.ID }) {
			continue
		}
		c := NewCombatant(t.CombatantID, t.Name, SideMonster)
		c.Stats = Stats{HPCurrent: 8, HPMax: 8, AC: 7, THAC0: 17}
		c.TokenID = t.ID
		c, err := normalizeCombatant(c)
		if err != nil {
			return nil, err
		}
		if s.combatantIndex(c.ID) >= 0 {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCombatant, c.ID)
		}
		s.Combatants = append(s.Combatants, c)
		events = append(events, Event{Type: EvtCombatantAdded, CombatantID: c.ID})
	}
	return events, nil
}

// rollAP turns d6 results into starting AP. Rolls are made by the caller.
func rollAP(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if s.Round == nil {
		return nil, fmt.Errorf("%w: %s", ErrWrongPhase, s.Phase)
	}
	if len(cmd.Rolls) == 0 {
		return nil, fmt.Errorf("%w: no rolls", ErrInvalidInput)
	}

	ids := make([]string, 0, len(cmd.Rolls))
	for id, roll := range cmd.Rolls {
		c, err := s.combatant(id)
		if err != nil {
			return nil, err
		}
		if c.Status != StatusActive {
			return nil, fmt.Errorf("%w: %s is out of action", ErrInvalidInput, id)
		}
		if roll < 1 || roll > 6 {
			return nil, fmt.Errorf("%w: roll %d", ErrInvalidInput, roll)
		}
		ids = append(ids, id)
	}
	// map order is random; keep events replayable
	slices.Sort(ids)

	events := make([]Event, 0, len(ids))
	for _, id := range ids {
		c, _ := s.combatant(id)
		roll := cmd.Rolls[id]
		ap := ComputeStartingAP(c.APBase, roll, c.Dex, c.APVariance, c.Surprised)
		s.Round.APRolls[id] = roll
		s.Round.APCurrent[id] = ap
		events = append(events, Event{Type: EvtAPAssigned, CombatantID: id, Amount: ap})
	}
	return events, nil
}

func setAP(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if s.Round == nil {
		return nil, fmt.Errorf("%w: %s", ErrWrongPhase, s.Phase)
	}
	if _, err := s.combatant(cmd.CombatantID); err != nil {
		return nil, err
	}
	if cmd.AP < 0 || cmd.AP > MaxAP {
		return nil, fmt.Errorf("%w: ap %d", ErrInvalidInput, cmd.AP)
	}

	// a zero roll marks AP that was set by hand
	s.Round.APRolls[cmd.CombatantID] = 0
	s.Round.APCurrent[cmd.CombatantID] = cmd.AP
	return []Event{{Type: EvtAPAssigned, CombatantID: cmd.CombatantID, Amount: cmd.AP}}, nil
}
