package engine

import (
	"fmt"
	"slices"
)

func beginDeclaration(s *CombatState, actor Actor, _ Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if err := requirePhase(s, PhaseRoundStart); err != nil {
		return nil, err
	}
	if !AllAPAssigned(*s) {
		return nil, ErrAPNotAssigned
	}
	ev, err := s.moveTo(PhaseDeclaration)
	if err != nil {
		return nil, err
	}
	return []Event{ev}, nil
}

// declarant resolves the combatant a declaration command targets and
// checks the actor may speak for it.
func declarant(s *CombatState, actor Actor, id string) (*Combatant, error) {
	if err := requirePhase(s, PhaseDeclaration); err != nil {
		return nil, err
	}
	c, err := s.combatant(id)
	if err != nil {
		return nil, err
	}
	if !CanControl(actor, *c) {
		return nil, ErrNotPermitted
	}
	if c.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s is out of action", ErrInvalidInput, id)
	}
	return c, nil
}

// primaryIndex returns the index of id's primary declaration, or -1.
func (r *RoundState) primaryIndex(id string) int {
	return slices.IndexFunc(r.Cycle.Declarations, func(d Declaration) bool {
		return d.CombatantID == id && d.Kind == DeclarationPrimary
	})
}

func selectAction(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	c, err := declarant(s, actor, cmd.CombatantID)
	if err != nil {
		return nil, err
	}
	if IsDoneForRound(*s, c.ID) {
		return nil, fmt.Errorf("%w: %s is done for the round", ErrInvalidInput, c.ID)
	}
	action, err := LookupAction(cmd.ActionID)
	if err != nil {
		return nil, err
	}
	if action.ID == ActionDone {
		return nil, fmt.Errorf("%w: use DeclareDone", ErrInvalidInput)
	}
	if action.Cost > CurrentAP(*s, c.ID) || action.MoveCost > RemainingMoves(*s, c.ID) {
		return nil, fmt.Errorf("%w: %s", ErrNotAffordable, action.ID)
	}
	if action.ID == ActionWait && !CanAffordWait(*s, c.ID) {
		return nil, fmt.Errorf("%w: nothing left to do after waiting", ErrNotAffordable)
	}

	r := s.Round
	d := Declaration{CombatantID: c.ID, ActionID: action.ID, Cost: action.Cost, Kind: DeclarationPrimary}
	if i := r.primaryIndex(c.ID); i >= 0 {
		if r.Cycle.Declarations[i].Locked {
			return nil, ErrDeclarationLocked
		}
		r.Cycle.Declarations[i] = d
	} else {
		r.Cycle.Declarations = append(r.Cycle.Declarations, d)
	}
	return []Event{{Type: EvtDeclarationSelected, CombatantID: c.ID, ActionID: action.ID}}, nil
}

func lockDeclaration(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	c, err := declarant(s, actor, cmd.CombatantID)
	if err != nil {
		return nil, err
	}
	i := s.Round.primaryIndex(c.ID)
	if i < 0 {
		return nil, ErrNoDeclaration
	}
	d := &s.Round.Cycle.Declarations[i]
	if d.Locked {
		return nil, ErrDeclarationLocked
	}
	d.Locked = true
	return []Event{{Type: EvtDeclarationLocked, CombatantID: c.ID, ActionID: d.ActionID}}, nil
}

// unlockDeclaration is the GM's correction tool. Unlocking a done
// declaration takes the combatant back into the round.
func unlockDeclaration(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if err := requirePhase(s, PhaseDeclaration); err != nil {
		return nil, err
	}
	if _, err := s.combatant(cmd.CombatantID); err != nil {
		return nil, err
	}
	r := s.Round
	i := r.primaryIndex(cmd.CombatantID)
	if i < 0 || !r.Cycle.Declarations[i].Locked {
		return nil, ErrNoDeclaration
	}

	if r.Cycle.Declarations[i].ActionID == ActionDone {
		r.Cycle.Declarations = slices.Delete(r.Cycle.Declarations, i, i+1)
		r.DoneForRound = removeID(r.DoneForRound, cmd.CombatantID)
		return []Event{{Type: EvtDoneUndone, CombatantID: cmd.CombatantID}}, nil
	}
	r.Cycle.Declarations[i].Locked = false
	return []Event{{Type: EvtDeclarationUnlocked, CombatantID: cmd.CombatantID}}, nil
}

func declareDone(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	c, err := declarant(s, actor, cmd.CombatantID)
	if err != nil {
		return nil, err
	}
	if IsDoneForRound(*s, c.ID) {
		return nil, fmt.Errorf("%w: %s is already done", ErrInvalidInput, c.ID)
	}

	r := s.Round
	d := Declaration{CombatantID: c.ID, ActionID: ActionDone, Cost: 0, Locked: true, Kind: DeclarationPrimary}
	if i := r.primaryIndex(c.ID); i >= 0 {
		if r.Cycle.Declarations[i].Locked {
			return nil, ErrDeclarationLocked
		}
		r.Cycle.Declarations[i] = d
	} else {
		r.Cycle.Declarations = append(r.Cycle.Declarations, d)
	}
	r.DoneForRound = append(r.DoneForRound, c.ID)
	return []Event{{Type: EvtDeclaredDone, CombatantID: c.ID}}, nil
}

func undoDone(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if err := requirePhase(s, PhaseDeclaration); err != nil {
		return nil, err
	}
	if !IsDoneForRound(*s, cmd.CombatantID) {
		return nil, fmt.Errorf("%w: %s is not done", ErrInvalidInput, cmd.CombatantID)
	}

	r := s.Round
	r.DoneForRound = removeID(r.DoneForRound, cmd.CombatantID)
	r.Cycle.Declarations = slices.DeleteFunc(r.Cycle.Declarations, func(d Declaration) bool {
		return d.CombatantID == cmd.CombatantID && d.ActionID == ActionDone && !d.Resolved
	})
	return []Event{{Type: EvtDoneUndone, CombatantID: cmd.CombatantID}}, nil
}
