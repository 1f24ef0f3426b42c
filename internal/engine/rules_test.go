package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStartingAPTable(t *testing.T) {
	want := map[DexCategory][6]int{
		DexPenalty:  {6, 6, 7, 7, 7, 8},
		DexStandard: {6, 7, 7, 7, 7, 8},
		DexBonus:    {6, 7, 7, 7, 8, 8},
	}
	for dex, row := range want {
		for roll := 1; roll <= 6; roll++ {
			assert.Equal(t, row[roll-1], ComputeStartingAP(7, roll, dex, true, false), "%s roll %d", dex, roll)
		}
		assert.Equal(t, row[0], ComputeStartingAP(7, 0, dex, true, false), "%s roll 0 clamps to 1", dex)
		assert.Equal(t, row[5], ComputeStartingAP(7, 7, dex, true, false), "%s roll 7 clamps to 6", dex)
	}
}

func TestComputeStartingAPWithoutVariance(t *testing.T) {
	assert.Equal(t, 9, ComputeStartingAP(9, 1, DexPenalty, false, false))
}

func TestSurpriseDominates(t *testing.T) {
	for base := 0; base <= MaxAP; base++ {
		for roll := 0; roll <= 7; roll++ {
			for _, variance := range []bool{true, false} {
				assert.Equal(t, base/2, ComputeStartingAP(base, roll, DexBonus, variance, true))
			}
		}
	}
}

func TestDexFromScore(t *testing.T) {
	cases := []struct {
		score int
		want  DexCategory
	}{
		{3, DexPenalty},
		{8, DexPenalty},
		{9, DexStandard},
		{12, DexStandard},
		{13, DexBonus},
		{18, DexBonus},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DexFromScore(tc.score), "score %d", tc.score)
	}
}

// roundState builds an in-round document straight from AP values, for
// rule functions that only read state.
func roundState(combatants []Combatant, ap map[string]int) CombatState {
	s := NewEncounter("gm", combatants)
	s.Phase = PhaseDeclaration
	s.Round = newRound(1)
	for id, v := range ap {
		s.Round.APCurrent[id] = v
	}
	return s
}

func TestFuryBankedIsCappedPerPlayer(t *testing.T) {
	p1 := NewCombatant("p1", "One", SidePlayer)
	p2 := NewCombatant("p2", "Two", SidePlayer)
	p3 := NewCombatant("p3", "Three", SidePlayer)
	p3.Status = StatusIncapacitated
	m := NewCombatant("m", "Orc", SideMonster)
	combatants := []Combatant{p1, p2, p3, m}

	cases := []struct {
		name string
		ap   map[string]int
		want int
	}{
		{"below cap", map[string]int{"p1": 1, "p2": 2}, 3},
		{"above cap", map[string]int{"p1": 10, "p2": 20}, 2 * MaxFuryPerPlayerPerRound},
		{"monster and incapacitated never bank", map[string]int{"p3": 5, "m": 9}, 0},
		{"missing AP entries read as zero", map[string]int{}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := roundState(combatants, tc.ap)
			got := CalculateFuryBanked(s)
			assert.Equal(t, tc.want, got)
			assert.LessOrEqual(t, got, 2*MaxFuryPerPlayerPerRound)
		})
	}

	assert.Zero(t, CalculateFuryBanked(NewEncounter("gm", combatants)), "no round means nothing to bank")
}

func TestCanSpendFury(t *testing.T) {
	assert.True(t, CanSpendFury(1, SpendDamageBoost, 0))
	assert.False(t, CanSpendFury(1, SpendDamageReduce, 0))
	assert.True(t, CanSpendFury(3, SpendAPBoost, 0))
	assert.False(t, CanSpendFury(2, SpendAPBoost, 0))
	assert.True(t, CanSpendFury(4, SpendCustom, 4))
	assert.False(t, CanSpendFury(4, SpendCustom, 5))
	assert.False(t, CanSpendFury(4, SpendCustom, 0))
	assert.False(t, CanSpendFury(9, "bribe", 1))
}

func TestAppendFuryLogIsBounded(t *testing.T) {
	log := make([]FuryLogEntry, 0, FuryLogMax)
	for i := 0; i < FuryLogMax; i++ {
		log = append(log, FuryLogEntry{Type: FuryBank, Amount: i, Round: i})
	}
	snapshot := append([]FuryLogEntry(nil), log...)

	entry := FuryLogEntry{Type: FurySpend, Amount: 99, SpendKind: SpendCustom, Round: 42}
	out := AppendFuryLog(log, entry)

	assert.Len(t, out, FuryLogMax)
	assert.Equal(t, entry, out[len(out)-1])
	assert.Equal(t, snapshot[1], out[0], "oldest entry is evicted")
	assert.Equal(t, snapshot, log, "input is not modified")

	short := AppendFuryLog(nil, entry)
	assert.Equal(t, []FuryLogEntry{entry}, short)
}

func TestBuildResolutionOrder(t *testing.T) {
	combatants := []Combatant{
		NewCombatant("x", "X", SidePlayer),
		NewCombatant("y", "Y", SideMonster),
		NewCombatant("z", "Z", SidePlayer),
	}

	t.Run("descending by current AP", func(t *testing.T) {
		s := roundState(combatants, map[string]int{"x": 5, "y": 8, "z": 3})
		s.Round.Cycle.Declarations = []Declaration{
			{CombatantID: "x", ActionID: ActionAttack, Cost: 3, Locked: true, Kind: DeclarationPrimary},
			{CombatantID: "y", ActionID: ActionAttack, Cost: 3, Locked: true, Kind: DeclarationPrimary},
			{CombatantID: "z", ActionID: ActionAid, Cost: 2, Locked: true, Kind: DeclarationPrimary},
		}
		assert.Equal(t, []string{"y", "x", "z"}, BuildResolutionOrder(s))
	})

	t.Run("unlocked declarations are left out", func(t *testing.T) {
		s := roundState(combatants, map[string]int{"x": 5, "y": 8, "z": 3})
		s.Round.Cycle.Declarations = []Declaration{
			{CombatantID: "x", ActionID: ActionAttack, Cost: 3, Locked: true, Kind: DeclarationPrimary},
			{CombatantID: "y", ActionID: ActionAttack, Cost: 3, Locked: false, Kind: DeclarationPrimary},
		}
		assert.Equal(t, []string{"x"}, BuildResolutionOrder(s))
	})

	t.Run("ties keep both combatants exactly once", func(t *testing.T) {
		s := roundState(combatants, map[string]int{"x": 5, "y": 8, "z": 5})
		s.Round.Cycle.Declarations = []Declaration{
			{CombatantID: "z", ActionID: ActionAttack, Cost: 3, Locked: true, Kind: DeclarationPrimary},
			{CombatantID: "x", ActionID: ActionAttack, Cost: 3, Locked: true, Kind: DeclarationPrimary},
			{CombatantID: "y", ActionID: ActionAttack, Cost: 3, Locked: true, Kind: DeclarationPrimary},
		}
		order := BuildResolutionOrder(s)
		require.Len(t, order, 3)
		assert.Equal(t, "y", order[0])
		assert.ElementsMatch(t, []string{"x", "z"}, order[1:])
	})

	t.Run("no round", func(t *testing.T) {
		assert.Empty(t, BuildResolutionOrder(NewEncounter("gm", combatants)))
	})
}

func TestDeductCycleCosts(t *testing.T) {
	ap := map[string]int{"a": 2, "b": 5, "c": 4}
	decls := []Declaration{
		{CombatantID: "a", ActionID: ActionAimedShot, Cost: 5, Resolved: true},
		{CombatantID: "b", ActionID: ActionAttack, Cost: 3, Resolved: false},
		{CombatantID: "c", ActionID: ActionWait, Cost: 1, Resolved: true, Kind: DeclarationPrimary},
		{CombatantID: "c", ActionID: ActionAttack, Cost: 3, Resolved: true, Kind: DeclarationFollowUp},
	}

	out := DeductCycleCosts(ap, decls)
	assert.Equal(t, map[string]int{"a": 0, "b": 5, "c": 0}, out)
	assert.Equal(t, map[string]int{"a": 2, "b": 5, "c": 4}, ap, "input map is not modified")
}

func TestMoveAllocation(t *testing.T) {
	cases := []struct {
		action ActionID
		moves  int
	}{
		{ActionMoveHalf, 1},
		{ActionMoveFull, 2},
		{ActionCharge, 2},
		{ActionRetreat, 2},
		{ActionFightingWithdrawal, 2},
		{ActionAttack, 0},
		{ActionWait, 0},
		{ActionDone, 0},
	}
	for _, tc := range cases {
		t.Run(string(tc.action), func(t *testing.T) {
			out := DeductCycleMoveCosts(map[string]int{}, []Declaration{
				{CombatantID: "a", ActionID: tc.action, Resolved: true},
				{CombatantID: "a", ActionID: tc.action, Resolved: false},
			})
			assert.Equal(t, tc.moves, out["a"])
		})
	}

	a := NewCombatant("a", "A", SidePlayer)
	s := roundState([]Combatant{a}, map[string]int{"a": 10})
	s.Round.MovesUsed["a"] = 3
	assert.Zero(t, RemainingMoves(s, "a"), "remaining moves never go negative")

	s.Round.MovesUsed["a"] = 1
	for _, act := range AffordableActions(s, "a") {
		assert.LessOrEqual(t, act.MoveCost, 1, act.ID)
	}

	_, next, err := Apply(s, gm, Command{Type: CmdSelectAction, CombatantID: "a", ActionID: ActionMoveFull})
	assert.ErrorIs(t, err, ErrNotAffordable)
	_, _, err = Apply(next, gm, Command{Type: CmdSelectAction, CombatantID: "a", ActionID: ActionMoveHalf})
	assert.NoError(t, err)

	assert.Equal(t, MoveAllowance, RemainingMoves(NewEncounter("gm", nil), "a"))
}

func TestCanAffordWait(t *testing.T) {
	a := NewCombatant("a", "A", SidePlayer)
	cases := []struct {
		ap   int
		want bool
	}{
		{0, false},
		{1, false},
		{2, false},
		{3, true},
		{8, true},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("ap %d", tc.ap), func(t *testing.T) {
			s := roundState([]Combatant{a}, map[string]int{"a": tc.ap})
			assert.Equal(t, tc.want, CanAffordWait(s, "a"))
		})
	}
}

func TestFollowUpActions(t *testing.T) {
	a := NewCombatant("a", "A", SidePlayer)
	s := roundState([]Combatant{a}, map[string]int{"a": 4})
	s.Round.MovesUsed["a"] = 1

	for _, act := range FollowUpActions(s, "a") {
		assert.NotEqual(t, ActionWait, act.ID)
		assert.NotEqual(t, ActionDone, act.ID)
		assert.LessOrEqual(t, act.Cost, 3)
		assert.LessOrEqual(t, act.MoveCost, 1)
	}
}

func TestPhaseGraph(t *testing.T) {
	phases := []Phase{PhaseSetup, PhaseRoundStart, PhaseDeclaration, PhaseResolution, PhaseCycleEnd, PhaseRoundEnd, PhaseCombatEnd}

	edges := 0
	for _, from := range phases {
		assert.False(t, CanTransition(from, from), "%s has a self loop", from)
		for _, to := range phases {
			if CanTransition(from, to) {
				edges++
			}
		}
	}
	assert.Equal(t, 9, edges)

	assert.Equal(t, []Phase{PhaseSetup}, ValidTransitions(PhaseCombatEnd))
	assert.Equal(t, []Phase{PhaseDeclaration, PhaseRoundEnd}, ValidTransitions(PhaseCycleEnd))
	assert.Equal(t, []Phase{PhaseRoundStart, PhaseCombatEnd}, ValidTransitions(PhaseRoundEnd))
	assert.Empty(t, ValidTransitions("intermission"))
	assert.False(t, CanTransition("intermission", PhaseSetup))

	got := ValidTransitions(PhaseCycleEnd)
	got[0] = PhaseCombatEnd
	assert.Equal(t, PhaseDeclaration, ValidTransitions(PhaseCycleEnd)[0], "callers get a copy")
}

func TestCatalog(t *testing.T) {
	all := Actions()
	require.Len(t, all, 22)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].DisplayOrder, all[i].DisplayOrder)
	}
	for _, a := range all {
		assert.GreaterOrEqual(t, a.Cost, 0)
		assert.LessOrEqual(t, a.Cost, 6)
		if a.Category != CategoryMove {
			assert.Zero(t, a.MoveCost, a.ID)
		}
	}

	done, err := LookupAction(ActionDone)
	require.NoError(t, err)
	assert.Zero(t, done.Cost)

	_, err = LookupAction("fireball")
	assert.ErrorIs(t, err, ErrActionNotFound)

	groups := ActionsByCategory()
	require.Len(t, groups, 3)
	assert.Equal(t, CategoryMove, groups[0].Category)
	assert.Equal(t, "Move", groups[0].Label)
	assert.Len(t, groups[0].Actions, 5)
	assert.Len(t, groups[1].Actions, 7)
	assert.Len(t, groups[2].Actions, 10)

	all[0].Cost = 99
	again, _ := LookupAction(all[0].ID)
	assert.NotEqual(t, 99, again.Cost)
}

func TestNextCopyName(t *testing.T) {
	cases := []struct {
		name     string
		base     string
		existing []string
		want     string
	}{
		{"first copy", "Goblin", []string{"Goblin"}, "Goblin 2"},
		{"after highest", "Goblin", []string{"Goblin", "Goblin 2", "Goblin 5"}, "Goblin 6"},
		{"copy of a copy", "Goblin 2", []string{"Goblin", "Goblin 2"}, "Goblin 3"},
		{"other names ignored", "Orc", []string{"Orc", "Orc Chief", "Orcish 4"}, "Orc 2"},
		{"regex characters", "Dr. (Evil)", []string{"Dr. (Evil)"}, "Dr. (Evil) 2"},
		{"no match", "Rat", nil, "Rat 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NextCopyName(tc.base, tc.existing))
		})
	}
}
