package engine

import "fmt"

// StartEncounter creates the document for a room that has none yet. It
// behaves like CreateEncounter issued against a finished combat.
func StartEncounter(actor Actor, roster []Combatant) ([]Event, CombatState, error) {
	return Apply(CombatState{Version: SchemaVersion, Phase: PhaseCombatEnd}, actor,
		Command{Type: CmdCreateEncounter, Roster: roster})
}

func createEncounter(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if err := requirePhase(s, PhaseCombatEnd); err != nil {
		return nil, err
	}

	roster := make([]Combatant, 0, len(cmd.Roster))
	seen := map[string]bool{}
	for _, c := range cmd.Roster {
		c, err := normalizeCombatant(c)
		if err != nil {
			return nil, err
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCombatant, c.ID)
		}
		seen[c.ID] = true
		roster = append(roster, c)
	}

	ev, err := s.moveTo(PhaseSetup)
	if err != nil {
		return nil, err
	}
	*s = NewEncounter(actor.ID, roster)
	return []Event{ev, {Type: EvtEncounterCreated, Amount: len(roster)}}, nil
}

func startCombat(s *CombatState, actor Actor, _ Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if err := requirePhase(s, PhaseSetup); err != nil {
		return nil, err
	}
	if !CanStartCombat(*s) {
		return nil, ErrCannotStart
	}

	ev, err := s.moveTo(PhaseRoundStart)
	if err != nil {
		return nil, err
	}
	s.Round = newRound(1)
	return []Event{ev}, nil
}

// nextRound banks leftover player AP as fury and opens a fresh round.
func nextRound(s *CombatState, actor Actor, _ Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if err := requirePhase(s, PhaseRoundEnd); err != nil {
		return nil, err
	}

	banked := CalculateFuryBanked(*s)
	number := s.Round.Number
	s.Fury.Current += banked
	s.Fury.Log = AppendFuryLog(s.Fury.Log, FuryLogEntry{Type: FuryBank, Amount: banked, Round: number})

	for i := range s.Combatants {
		s.Combatants[i].Surprised = false
	}

	ev, err := s.moveTo(PhaseRoundStart)
	if err != nil {
		return nil, err
	}
	s.Round = newRound(number + 1)
	return []Event{{Type: EvtFuryBanked, Amount: banked}, ev}, nil
}

func endCombat(s *CombatState, actor Actor, _ Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if !s.Phase.InRound() {
		return nil, fmt.Errorf("%w: %s", ErrWrongPhase, s.Phase)
	}

	events, err := walkToRoundEnd(s)
	if err != nil {
		return nil, err
	}
	ev, err := s.moveTo(PhaseCombatEnd)
	if err != nil {
		return nil, err
	}
	s.Round = nil
	return append(events, ev, Event{Type: EvtCombatEnded}), nil
}

// walkToRoundEnd follows legal edges until the round-end phase, closing
// the open cycle on the way through cycle-end.
func walkToRoundEnd(s *CombatState) ([]Event, error) {
	var events []Event
	for s.Phase != PhaseRoundEnd {
		var next Phase
		switch s.Phase {
		case PhaseRoundStart:
			next = PhaseDeclaration
		case PhaseDeclaration:
			next = PhaseResolution
		case PhaseResolution:
			next = PhaseCycleEnd
		case PhaseCycleEnd:
			next = PhaseRoundEnd
		default:
			return nil, fmt.Errorf("%w: %s", ErrWrongPhase, s.Phase)
		}

		from := s.Phase
		ev, err := s.moveTo(next)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
		if from == PhaseResolution {
			events = append(events, closeCycle(s))
		}
	}
	return events, nil
}
