package engine

import (
	"fmt"
	"maps"
	"slices"
)

const (
	PlayerBaseAP  = 7
	MonsterBaseAP = 7
)

// NewEncounter builds a fresh setup-phase document owned by gmID.
func NewEncounter(gmID string, combatants []Combatant) CombatState {
	s := CombatState{
		Version:    SchemaVersion,
		Phase:      PhaseSetup,
		Combatants: slices.Clone(combatants),
		Fury:       FuryState{Log: []FuryLogEntry{}},
		GMID:       gmID,
	}
	if s.Combatants == nil {
		s.Combatants = []Combatant{}
	}
	return s
}

// NewCombatant fills in the defaults a freshly added combatant gets.
func NewCombatant(id, name string, side Side) Combatant {
	c := Combatant{
		ID:     id,
		Name:   name,
		Side:   side,
		Status: StatusActive,
		Stats:  Stats{HPCurrent: 8, HPMax: 8, AC: 9, THAC0: 19},
		Dex:    DexStandard,
		APBase: PlayerBaseAP,
	}
	if side == SideMonster {
		c.APBase = MonsterBaseAP
	} else {
		c.APVariance = true
	}
	return c
}

func newRound(number int) *RoundState {
	return &RoundState{
		Number:       number,
		APRolls:      map[string]int{},
		APCurrent:    map[string]int{},
		MovesUsed:    map[string]int{},
		Cycle:        newCycle(1),
		DoneForRound: []string{},
	}
}

func newCycle(number int) CycleState {
	return CycleState{
		Number:          number,
		Declarations:    []Declaration{},
		ResolutionOrder: []string{},
		Waiting:         []string{},
	}
}

// Clone returns a deep copy that shares no slices or maps with s.
func (s CombatState) Clone() CombatState {
	out := s
	out.Combatants = slices.Clone(s.Combatants)
	out.Fury.Log = slices.Clone(s.Fury.Log)
	if s.Round != nil {
		r := *s.Round
		r.APRolls = maps.Clone(s.Round.APRolls)
		r.APCurrent = maps.Clone(s.Round.APCurrent)
		r.MovesUsed = maps.Clone(s.Round.MovesUsed)
		r.DoneForRound = slices.Clone(s.Round.DoneForRound)
		r.Cycle.Declarations = slices.Clone(s.Round.Cycle.Declarations)
		r.Cycle.ResolutionOrder = slices.Clone(s.Round.Cycle.ResolutionOrder)
		r.Cycle.Waiting = slices.Clone(s.Round.Cycle.Waiting)
		out.Round = &r
	}
	return out
}

// Validate checks the shape of a document read from the shared store.
func (s CombatState) Validate() error {
	if s.Version != SchemaVersion {
		return fmt.Errorf("%w: version %d", ErrInvalidInput, s.Version)
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("%w: phase %q", ErrInvalidInput, s.Phase)
	}
	if (s.Round != nil) != s.Phase.InRound() {
		return fmt.Errorf("%w: round presence does not match phase %s", ErrInvalidInput, s.Phase)
	}
	seen := make(map[string]bool, len(s.Combatants))
	for _, c := range s.Combatants {
		if c.ID == "" || seen[c.ID] {
			return fmt.Errorf("%w: combatant id %q", ErrInvalidInput, c.ID)
		}
		seen[c.ID] = true
		if !c.Side.Valid() || !c.Status.Valid() || !c.Dex.Valid() {
			return fmt.Errorf("%w: combatant %s has unknown side, status or dex", ErrInvalidInput, c.ID)
		}
	}
	if s.Fury.Current < 0 {
		return fmt.Errorf("%w: negative fury", ErrInvalidInput)
	}
	if r := s.Round; r != nil {
		if r.APRolls == nil || r.APCurrent == nil || r.MovesUsed == nil {
			return fmt.Errorf("%w: round is missing its AP or move tables", ErrInvalidInput)
		}
		if r.Cycle.Cursor < 0 || r.Cycle.Cursor > len(r.Cycle.ResolutionOrder) {
			return fmt.Errorf("%w: resolution cursor %d", ErrInvalidInput, r.Cycle.Cursor)
		}
		for _, d := range r.Cycle.Declarations {
			if _, err := LookupAction(d.ActionID); err != nil {
				return err
			}
		}
	}
	return nil
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func (s *CombatState) combatantIndex(id string) int {
	return slices.IndexFunc(s.Combatants, func(c Combatant) bool { return c.ID == id })
}

func (s *CombatState) combatant(id string) (*Combatant, error) {
	i := s.combatantIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCombatant, id)
	}
	return &s.Combatants[i], nil
}

// moveTo changes phase along one legal edge.
func (s *CombatState) moveTo(to Phase) (Event, error) {
	if !CanTransition(s.Phase, to) {
		return Event{}, fmt.Errorf("%w: %s -> %s", ErrWrongPhase, s.Phase, to)
	}
	from := s.Phase
	s.Phase = to
	return Event{Type: EvtPhaseChanged, From: from, Phase: to}, nil
}

func requirePhase(s *CombatState, phases ...Phase) error {
	if slices.Contains(phases, s.Phase) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrWrongPhase, s.Phase)
}

func requireGM(actor Actor) error {
	if !actor.IsGM() {
		return ErrNotPermitted
	}
	return nil
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(x string) bool { return x == id })
}
