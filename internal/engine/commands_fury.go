package engine

import "fmt"

// spendFury draws from the shared pool. Anyone at the table may spend;
// an AP boost must target a combatant the spender controls that already
// has AP this round.
func spendFury(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	cost, fixed := FurySpendCost(cmd.SpendKind)
	switch {
	case cmd.SpendKind == SpendCustom:
		cost = cmd.Amount
		if cost < 1 {
			return nil, fmt.Errorf("%w: amount %d", ErrInvalidInput, cmd.Amount)
		}
	case !fixed:
		return nil, fmt.Errorf("%w: spend kind %q", ErrInvalidInput, cmd.SpendKind)
	}
	if !CanSpendFury(s.Fury.Current, cmd.SpendKind, cost) {
		return nil, fmt.Errorf("%w: fury %d, cost %d", ErrNotAffordable, s.Fury.Current, cost)
	}

	if cmd.SpendKind == SpendAPBoost {
		c, err := s.combatant(cmd.CombatantID)
		if err != nil {
			return nil, err
		}
		if !CanControl(actor, *c) {
			return nil, ErrNotPermitted
		}
		if !HasAP(*s, c.ID) {
			return nil, fmt.Errorf("%w: %s has no AP this round", ErrInvalidInput, c.ID)
		}
		s.Round.APCurrent[c.ID] = min(MaxAP, s.Round.APCurrent[c.ID]+1)
	}

	round := 0
	if s.Round != nil {
		round = s.Round.Number
	}
	s.Fury.Current -= cost
	s.Fury.Log = AppendFuryLog(s.Fury.Log, FuryLogEntry{
		Type:        FurySpend,
		Amount:      cost,
		SpendKind:   cmd.SpendKind,
		CombatantID: cmd.CombatantID,
		Round:       round,
	})
	return []Event{{Type: EvtFurySpent, CombatantID: cmd.CombatantID, Amount: cost}}, nil
}

func addFury(s *CombatState, actor Actor, cmd Command) ([]Event, error) {
	if err := requireGM(actor); err != nil {
		return nil, err
	}
	if cmd.Amount < 1 {
		return nil, fmt.Errorf("%w: amount %d", ErrInvalidInput, cmd.Amount)
	}

	round := 0
	if s.Round != nil {
		round = s.Round.Number
	}
	s.Fury.Current += cmd.Amount
	s.Fury.Log = AppendFuryLog(s.Fury.Log, FuryLogEntry{Type: FuryBank, Amount: cmd.Amount, Round: round})
	return []Event{{Type: EvtFuryAdded, Amount: cmd.Amount}}, nil
}
