package engine

import (
	"fmt"
	"slices"
)

func advanceToResolution(s *CombatState, actor Actor, _ Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if err := requirePhase(s, PhaseDeclaration); err != nil {
		return nil, err
	}
	if !AllDeclarationsLocked(*s) {
		return nil, ErrDeclarationsPending
	}

	ev, err := s.moveTo(PhaseResolution)
	if err != nil {
		return nil, err
	}
	c := &s.Round.Cycle
	c.ResolutionOrder = BuildResolutionOrder(*s)
	c.Cursor = 0
	c.Waiting = []string{}

	events := []Event{ev, {Type: EvtResolutionOrderBuilt, Amount: len(c.ResolutionOrder)}}
	return append(events, skipDone(s)...), nil
}

// resolveNext resolves the declaration under the cursor. A resolved Wait
// parks the combatant until it picks or skips its follow-up.
func resolveNext(s *CombatState, actor Actor, _ Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if err := requirePhase(s, PhaseResolution); err != nil {
		return nil, err
	}
	id, ok := CurrentResolver(*s)
	if !ok {
		return nil, ErrNothingToResolve
	}

	r := s.Round
	var events []Event
	if i := r.primaryIndex(id); i >= 0 {
		d := &r.Cycle.Declarations[i]
		d.Resolved = true
		events = append(events, Event{Type: EvtDeclarationResolved, CombatantID: id, ActionID: d.ActionID})
		if d.ActionID == ActionWait && !slices.Contains(r.Cycle.Waiting, id) {
			r.Cycle.Waiting = append(r.Cycle.Waiting, id)
			events = append(events, Event{Type: EvtWaitStarted, CombatantID: id})
		}
	}
	r.Cycle.Cursor++
	return append(events, skipDone(s)...), nil
}

// skipDone resolves consecutive done declarations under the cursor; they
// have nothing for the table to play out.
func skipDone(s *CombatState) []Event {
	r := s.Round
	var events []Event
	for {
		id, ok := CurrentResolver(*s)
		if !ok {
			return events
		}
		i := r.primaryIndex(id)
		if i < 0 || r.Cycle.Declarations[i].ActionID != ActionDone {
			return events
		}
		r.Cycle.Declarations[i].Resolved = true
		r.Cycle.Cursor++
		events = append(events, Event{Type: EvtDeclarationResolved, CombatantID: id, ActionID: ActionDone})
	}
}

// follower checks a follow-up command: the combatant must be waiting and
// the actor must control it.
func follower(s *CombatState, actor Actor, id string) (*Combatant, error) {
	if err := requirePhase(s, PhaseResolution); err != nil {
		return nil, err
	}
	c, err := s.combatant(id)
	if err != nil {
		return nil, err
	}
	if !IsWaiting(*s, id) {
		return nil, ErrNotWaiting
	}
	if !CanControl(actor, *c) {
		return nil, ErrNotPermitted
	}
	return c, nil
}

func selectFollowUp(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	c, err := follower(s, actor, cmd.CombatantID)
	if err != nil {
		return nil, err
	}
	action, err := LookupAction(cmd.ActionID)
	if err != nil {
		return nil, err
	}
	// one follow-up per wait; waiting again is not offered
	if action.ID == ActionWait || action.ID == ActionDone {
		return nil, fmt.Errorf("%w: %s cannot follow a wait", ErrInvalidInput, action.ID)
	}
	if !slices.ContainsFunc(FollowUpActions(*s, c.ID), func(a ActionDefinition) bool { return a.ID == action.ID }) {
		return nil, fmt.Errorf("%w: %s", ErrNotAffordable, action.ID)
	}

	r := s.Round
	r.Cycle.Declarations = append(r.Cycle.Declarations, Declaration{
		CombatantID: c.ID,
		ActionID:    action.ID,
		Cost:        action.Cost,
		Locked:      true,
		Resolved:    true,
		Kind:        DeclarationFollowUp,
	})
	r.Cycle.Waiting = removeID(r.Cycle.Waiting, c.ID)
	return []Event{{Type: EvtFollowUpResolved, CombatantID: c.ID, ActionID: action.ID}}, nil
}

func skipFollowUp(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	c, err := follower(s, actor, cmd.CombatantID)
	if err != nil {
		return nil, err
	}
	s.Round.Cycle.Waiting = removeID(s.Round.Cycle.Waiting, c.ID)
	return []Event{{Type: EvtFollowUpSkipped, CombatantID: c.ID}}, nil
}

// endCycle closes a fully resolved cycle and leaves cycle-end straight
// away: back to declaration while anyone can still act, else round-end.
func endCycle(s *CombatState, actor Actor, _ Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if err := requirePhase(s, PhaseResolution, PhaseCycleEnd); err != nil {
		return nil, err
	}

	var events []Event
	if s.Phase == PhaseResolution {
		if !ResolutionComplete(*s) {
			return nil, ErrResolutionPending
		}
		ev, err := s.moveTo(PhaseCycleEnd)
		if err != nil {
			return nil, err
		}
		events = append(events, ev, closeCycle(s))
	}

	ev, err := exitCycleEnd(s)
	if err != nil {
		return nil, err
	}
	return append(events, ev), nil
}

// closeCycle applies the batch deduction for every resolved declaration.
// Combatants still waiting lose their follow-up.
func closeCycle(s *CombatState) Event {
	r := s.Round
	r.APCurrent = DeductCycleCosts(r.APCurrent, r.Cycle.Declarations)
	r.MovesUsed = DeductCycleMoveCosts(r.MovesUsed, r.Cycle.Declarations)
	if len(r.Cycle.Declarations) > 0 {
		r.CompletedCycles++
	}
	r.Cycle.Waiting = []string{}
	return Event{Type: EvtCycleEnded, Amount: r.Cycle.Number}
}

func exitCycleEnd(s *CombatState) (Event, error) {
	if AnyoneCanAct(*s) {
		ev, err := s.moveTo(PhaseDeclaration)
		if err != nil {
			return Event{}, err
		}
		s.Round.Cycle = newCycle(s.Round.Cycle.Number + 1)
		return ev, nil
	}
	return s.moveTo(PhaseRoundEnd)
}

func forceEndRound(s *CombatState, actor Actor, _ Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if err := requirePhase(s, PhaseRoundStart, PhaseDeclaration, PhaseResolution, PhaseCycleEnd); err != nil {
		return nil, err
	}
	return walkToRoundEnd(s)
}
