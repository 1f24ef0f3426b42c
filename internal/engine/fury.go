package engine

const (
	MaxFuryPerPlayerPerRound = 3
	FuryLogMax               = 20
)

type FurySpendKind string

const (
	SpendDamageBoost  FurySpendKind = "damage-boost"
	SpendDamageReduce FurySpendKind = "damage-reduce"
	SpendAPBoost      FurySpendKind = "ap-boost"
	SpendCustom       FurySpendKind = "custom"
)

type FurySpendOption struct {
	Kind   FurySpendKind `json:"type"`
	Name   string        `json:"name"`
	Cost   int           `json:"cost"`
	Effect string        `json:"effect"`
}

var FurySpendOptions = []FurySpendOption{
	{SpendDamageBoost, "+1 Damage", 1, "+1 damage to a successful attack"},
	{SpendDamageReduce, "-1 Damage", 2, "-1 damage from incoming attack"},
	{SpendAPBoost, "+1 AP", 3, "+1 AP to your current pool"},
}

// FurySpendCost returns the fixed cost for kind. Custom spends have no
// fixed cost and report false.
func FurySpendCost(kind FurySpendKind) (int, bool) {
	for _, o := range FurySpendOptions {
		if o.Kind == kind {
			return o.Cost, true
		}
	}
	return 0, false
}

// CalculateFuryBanked sums leftover AP of active players, each capped at
// MaxFuryPerPlayerPerRound.
func CalculateFuryBanked(s CombatState) int {
	total := 0
	for _, c := range s.Combatants {
		if c.Side != SidePlayer || c.Status != StatusActive {
			continue
		}
		total += min(CurrentAP(s, c.ID), MaxFuryPerPlayerPerRound)
	}
	return total
}

func CanSpendFury(current int, kind FurySpendKind, amount int) bool {
	if kind == SpendCustom {
		return amount > 0 && amount <= current
	}
	cost, ok := FurySpendCost(kind)
	if !ok {
		return false
	}
	return current >= cost
}

// AppendFuryLog returns a new log with entry appended, dropping the oldest
// entries beyond FuryLogMax. log is not modified.
func AppendFuryLog(log []FuryLogEntry, entry FuryLogEntry) []FuryLogEntry {
	start := 0
	if n := len(log) + 1; n > FuryLogMax {
		start = n - FuryLogMax
	}
	out := make([]FuryLogEntry, 0, len(log)-start+1)
	out = append(out, log[start:]...)
	return append(out, entry)
}
