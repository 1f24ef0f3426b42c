package engine

import (
	"errors"
	"fmt"
	"slices"
)

var ErrActionNotFound = errors.New("action not found")

type ActionID string

const (
	ActionWait               ActionID = "wait"
	ActionQuickAction        ActionID = "quick-action"
	ActionMoveHalf           ActionID = "move-half"
	ActionBrace              ActionID = "brace"
	ActionUnarmedAttack      ActionID = "unarmed-attack"
	ActionAid                ActionID = "aid"
	ActionGuard              ActionID = "guard"
	ActionCoordinatedDefence ActionID = "coordinated-defence"
	ActionBreakFree          ActionID = "break-free"
	ActionMoveFull           ActionID = "move-full"
	ActionAttack             ActionID = "attack"
	ActionAction             ActionID = "action"
	ActionFightingWithdrawal ActionID = "fighting-withdrawal"
	ActionGrapple            ActionID = "grapple"
	ActionTwoHandedAttack    ActionID = "two-handed-attack"
	ActionCastSpell          ActionID = "cast-spell"
	ActionRetreat            ActionID = "retreat"
	ActionCoordinatedAttack  ActionID = "coordinated-attack"
	ActionAimedShot          ActionID = "aimed-shot"
	ActionCharge             ActionID = "charge"
	ActionSlowAction         ActionID = "slow-action"
	ActionDone               ActionID = "done"
)

type ActionCategory string

const (
	CategoryMove  ActionCategory = "move"
	CategoryAct   ActionCategory = "act"
	CategoryOther ActionCategory = "other"
)

// CategoryOrder is the order categories are grouped in for display.
var CategoryOrder = []ActionCategory{CategoryMove, CategoryAct, CategoryOther}

func (c ActionCategory) Label() string {
	switch c {
	case CategoryMove:
		return "Move"
	case CategoryAct:
		return "Act"
	case CategoryOther:
		return "Other"
	}
	return string(c)
}

type ActionDefinition struct {
	ID           ActionID       `json:"id"`
	Name         string         `json:"name"`
	Cost         int            `json:"cost"`
	MoveCost     int            `json:"moveCost"`
	Description  string         `json:"description"`
	Category     ActionCategory `json:"category"`
	DisplayOrder int            `json:"displayOrder"`
}

var catalog = []ActionDefinition{
	// Move
	{ActionMoveHalf, "Move (Half)", 2, 1, "Half encounter move (max 2 per round)", CategoryMove, 10},
	{ActionMoveFull, "Move (Full)", 3, 2, "Full encounter move", CategoryMove, 11},
	{ActionFightingWithdrawal, "Fighting Withdrawal", 3, 2, "Half move backward, no AC penalty", CategoryMove, 12},
	{ActionRetreat, "Retreat", 4, 2, "Full move backward, foes get +2 to hit you", CategoryMove, 13},
	{ActionCharge, "Charge", 5, 2, "Full move + attack, +2 to hit, -2 AC until next turn", CategoryMove, 14},
	// Act
	{ActionUnarmedAttack, "Unarmed Attack", 2, 0, "1d2+STR damage", CategoryAct, 20},
	{ActionAttack, "Attack", 3, 0, "Strike foe; melee or ranged", CategoryAct, 21},
	{ActionGrapple, "Grapple", 3, 0, "Opposed STR; win = grapple, lose = action wasted", CategoryAct, 22},
	{ActionTwoHandedAttack, "Two-Handed Attack", 4, 0, "Strike with two-handed weapon", CategoryAct, 23},
	{ActionCastSpell, "Cast Spell", 4, 0, "Cast a prepared spell", CategoryAct, 24},
	{ActionCoordinatedAttack, "Coordinated Attack", 4, 0, "Attack with allies vs same target; +1 to hit, +1 damage per extra attacker", CategoryAct, 25},
	{ActionAimedShot, "Aimed Shot", 5, 0, "Ranged attack with +2 to hit", CategoryAct, 26},
	// Other
	{ActionWait, "Wait", 1, 0, "Hold or set trigger to interrupt (not in melee)", CategoryOther, 30},
	{ActionQuickAction, "Quick Action", 2, 0, "Draw/drop weapon, take cover, stand up, open door", CategoryOther, 31},
	{ActionBrace, "Brace", 2, 0, "Ready vs charge; free attack if charged (spear/polearm)", CategoryOther, 32},
	{ActionAid, "Aid", 2, 0, "Ally gets +2 to next attack OR +2 AC until your next turn", CategoryOther, 33},
	{ActionGuard, "Guard", 2, 0, "Take attacks meant for adjacent ally (use your AC)", CategoryOther, 34},
	{ActionCoordinatedDefence, "Coordinated Defence", 2, 0, "All in formation get +1 AC; pay each round; move together", CategoryOther, 35},
	{ActionBreakFree, "Break Free", 2, 0, "Escape grapple (STR vs STR or DEX); includes half move", CategoryOther, 36},
	{ActionAction, "Action", 3, 0, "Non-combat activity (drink potion, use item, etc.)", CategoryOther, 37},
	{ActionSlowAction, "Slow Action", 6, 0, "Complex non-combat activity (barricade door, bind wounds)", CategoryOther, 38},
	{ActionDone, "Done", 0, 0, "Take no further actions this round. Remaining AP banks as Fury.", CategoryOther, 99},
}

var catalogByID = func() map[ActionID]ActionDefinition {
	m := make(map[ActionID]ActionDefinition, len(catalog))
	for _, a := range catalog {
		m[a.ID] = a
	}
	return m
}()

func LookupAction(id ActionID) (ActionDefinition, error) {
	a, ok := catalogByID[id]
	if !ok {
		return ActionDefinition{}, fmt.Errorf("%w: %q", ErrActionNotFound, id)
	}
	return a, nil
}

// Actions returns every definition sorted by display order.
func Actions() []ActionDefinition {
	out := slices.Clone(catalog)
	slices.SortStableFunc(out, func(a, b ActionDefinition) int { return a.DisplayOrder - b.DisplayOrder })
	return out
}

type ActionGroup struct {
	Category ActionCategory     `json:"category"`
	Label    string             `json:"label"`
	Actions  []ActionDefinition `json:"actions"`
}

// ActionsByCategory groups Actions() by CategoryOrder.
func ActionsByCategory() []ActionGroup {
	all := Actions()
	groups := make([]ActionGroup, 0, len(CategoryOrder))
	for _, cat := range CategoryOrder {
		g := ActionGroup{Category: cat, Label: cat.Label()}
		for _, a := range all {
			if a.Category == cat {
				g.Actions = append(g.Actions, a)
			}
		}
		groups = append(groups, g)
	}
	return groups
}

// moveCost returns the move cost of id, 0 for unknown ids.
func moveCost(id ActionID) int {
	return catalogByID[id].MoveCost
}
