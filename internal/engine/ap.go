package engine

const SurpriseDivisor = 2

// varianceTable is indexed by die roll - 1. Values are the final AP.
var varianceTable = map[DexCategory][6]int{
	//          roll: 1  2  3  4  5  6
	DexPenalty:  {6, 6, 7, 7, 7, 8},
	DexStandard: {6, 7, 7, 7, 7, 8},
	DexBonus:    {6, 7, 7, 7, 8, 8},
}

// RollVariance looks up AP for a d6 roll, clamping the roll into 1..6.
// Unknown categories read as standard.
func RollVariance(roll int, dex DexCategory) int {
	roll = max(1, min(6, roll))
	row, ok := varianceTable[dex]
	if !ok {
		row = varianceTable[DexStandard]
	}
	return row[roll-1]
}

func SurpriseAP(base int) int {
	return base / SurpriseDivisor
}

func DexFromScore(score int) DexCategory {
	switch {
	case score <= 8:
		return DexPenalty
	case score <= 12:
		return DexStandard
	default:
		return DexBonus
	}
}

// ComputeStartingAP returns a combatant's AP for a new round. Surprise wins
// over everything, then a disabled variance flag keeps base AP as is.
func ComputeStartingAP(base, roll int, dex DexCategory, variance, surprised bool) int {
	if surprised {
		return SurpriseAP(base)
	}
	if !variance {
		return base
	}
	return RollVariance(roll, dex)
}
