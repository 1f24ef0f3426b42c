package engine

type Phase string

const (
	PhaseSetup       Phase = "setup"
	PhaseRoundStart  Phase = "round-start"
	PhaseDeclaration Phase = "declaration"
	PhaseResolution  Phase = "resolution"
	PhaseCycleEnd    Phase = "cycle-end"
	PhaseRoundEnd    Phase = "round-end"
	PhaseCombatEnd   Phase = "combat-end"
)

// PhaseGraph lists legal successors in the order the UI offers them.
var PhaseGraph = map[Phase][]Phase{
	PhaseSetup:       {PhaseRoundStart},
	PhaseRoundStart:  {PhaseDeclaration},
	PhaseDeclaration: {PhaseResolution},
	PhaseResolution:  {PhaseCycleEnd},
	PhaseCycleEnd:    {PhaseDeclaration, PhaseRoundEnd},
	PhaseRoundEnd:    {PhaseRoundStart, PhaseCombatEnd},
	PhaseCombatEnd:   {PhaseSetup},
}

func (p Phase) Valid() bool {
	_, ok := PhaseGraph[p]
	return ok
}

// InRound reports whether a document in phase p must carry a RoundState.
func (p Phase) InRound() bool {
	switch p {
	case PhaseRoundStart, PhaseDeclaration, PhaseResolution, PhaseCycleEnd, PhaseRoundEnd:
		return true
	}
	return false
}

func CanTransition(from, to Phase) bool {
	for _, next := range PhaseGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidTransitions returns a copy of the successors of from.
func ValidTransitions(from Phase) []Phase {
	return append([]Phase(nil), PhaseGraph[from]...)
}
