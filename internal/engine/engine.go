package engine

import (
	"errors"
	"fmt"
)

var ErrNotPermitted = errors.New("actor not permitted")
var ErrWrongPhase = errors.New("command not valid in current phase")
var ErrInvalidInput = errors.New("invalid input")
var ErrUnknownCombatant = errors.New("unknown combatant")
var ErrDuplicateCombatant = errors.New("combatant id already in use")
var ErrDeclarationLocked = errors.New("declaration is locked")
var ErrNoDeclaration = errors.New("no declaration to change")
var ErrNotAffordable = errors.New("action not affordable")
var ErrNotWaiting = errors.New("combatant is not waiting")
var ErrResolutionPending = errors.New("resolution still in progress")
var ErrNothingToResolve = errors.New("resolution order exhausted")
var ErrDeclarationsPending = errors.New("not every active combatant has locked a declaration")
var ErrAPNotAssigned = errors.New("not every active combatant has AP")
var ErrCannotStart = errors.New("combat needs an active player and an active monster")
var ErrUnsupportedCommand = errors.New("unsupported command")

const SchemaVersion = 1

type Side string

const (
	SidePlayer  Side = "player"
	SideMonster Side = "monster"
)

func (s Side) Valid() bool {
	switch s {
	case SidePlayer, SideMonster:
		return true
	}
	return false
}

type Status string

const (
	StatusActive        Status = "active"
	StatusIncapacitated Status = "incapacitated"
	StatusKilled        Status = "killed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusIncapacitated, StatusKilled:
		return true
	}
	return false
}

type DexCategory string

const (
	DexPenalty  DexCategory = "penalty"
	DexStandard DexCategory = "standard"
	DexBonus    DexCategory = "bonus"
)

func (d DexCategory) Valid() bool {
	switch d {
	case DexPenalty, DexStandard, DexBonus:
		return true
	}
	return false
}

type Role string

const (
	RoleGM     Role = "gm"
	RolePlayer Role = "player"
)

func (r Role) Valid() bool {
	switch r {
	case RoleGM, RolePlayer:
		return true
	}
	return false
}

// Actor is the caller identity. It is supplied by the transport and trusted.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (a Actor) IsGM() bool { return a.Role == RoleGM }

type Stats struct {
	HPCurrent int `json:"hpCurrent"`
	HPMax     int `json:"hpMax"`
	AC        int `json:"ac"`
	THAC0     int `json:"thac0"`
}

type Combatant struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Side       Side        `json:"side"`
	Status     Status      `json:"status"`
	Stats      Stats       `json:"stats"`
	Dex        DexCategory `json:"dexCategory"`
	APBase     int         `json:"apBase"`
	APVariance bool        `json:"apVariance"`
	Surprised  bool        `json:"surprised"`
	OwnerID    string      `json:"ownerId,omitempty"`
	TokenID    string      `json:"tokenId,omitempty"`
}

type DeclarationKind string

const (
	DeclarationPrimary  DeclarationKind = "primary"
	DeclarationFollowUp DeclarationKind = "follow-up"
)

type Declaration struct {
	CombatantID string          `json:"combatantId"`
	ActionID    ActionID        `json:"actionId"`
	Cost        int             `json:"cost"`
	Locked      bool            `json:"locked"`
	Resolved    bool            `json:"resolved,omitempty"`
	Kind        DeclarationKind `json:"kind"`
}

type CycleState struct {
	Number          int           `json:"cycleNumber"`
	Declarations    []Declaration `json:"declarations"`
	ResolutionOrder []string      `json:"resolutionOrder"`
	Cursor          int           `json:"currentResolutionIndex"`
	Waiting         []string      `json:"waitingCombatants"`
}

type RoundState struct {
	Number          int            `json:"roundNumber"`
	APRolls         map[string]int `json:"apRolls"`
	APCurrent       map[string]int `json:"apCurrent"`
	MovesUsed       map[string]int `json:"movesUsed"`
	Cycle           CycleState     `json:"currentCycle"`
	CompletedCycles int            `json:"completedCycles"`
	DoneForRound    []string       `json:"doneForRound"`
}

type FuryEntryType string

const (
	FuryBank  FuryEntryType = "bank"
	FurySpend FuryEntryType = "spend"
)

type FuryLogEntry struct {
	Type        FuryEntryType `json:"type"`
	Amount      int           `json:"amount"`
	SpendKind   FurySpendKind `json:"spendType,omitempty"`
	CombatantID string        `json:"combatantId,omitempty"`
	Round       int           `json:"round"`
}

type FuryState struct {
	Current int            `json:"current"`
	Log     []FuryLogEntry `json:"log"`
}

// CombatState is the whole shared document for one encounter.
type CombatState struct {
	Version    int         `json:"version"`
	Phase      Phase       `json:"phase"`
	Combatants []Combatant `json:"combatants"`
	Round      *RoundState `json:"round"`
	Fury       FuryState   `json:"fury"`
	GMID       string      `json:"gmId"`
}

type CommandType string

const (
	CmdCreateEncounter     CommandType = "CreateEncounter"
	CmdStartCombat         CommandType = "StartCombat"
	CmdEndCombat           CommandType = "EndCombat"
	CmdNextRound           CommandType = "NextRound"
	CmdAddCombatant        CommandType = "AddCombatant"
	CmdRemoveCombatant     CommandType = "RemoveCombatant"
	CmdEditCombatant       CommandType = "EditCombatant"
	CmdToggleStatus        CommandType = "ToggleStatus"
	CmdSetStatus           CommandType = "SetStatus"
	CmdCopyCombatant       CommandType = "CopyCombatant"
	CmdImportTokens        CommandType = "ImportTokens"
	CmdRollAP              CommandType = "RollAP"
	CmdSetAP               CommandType = "SetAP"
	CmdBeginDeclaration    CommandType = "BeginDeclaration"
	CmdSelectAction        CommandType = "SelectAction"
	CmdLockDeclaration     CommandType = "LockDeclaration"
	CmdUnlockDeclaration   CommandType = "UnlockDeclaration"
	CmdDeclareDone         CommandType = "DeclareDone"
	CmdUndoDone            CommandType = "UndoDone"
	CmdAdvanceToResolution CommandType = "AdvanceToResolution"
	CmdResolveNext         CommandType = "ResolveNext"
	CmdSelectFollowUp      CommandType = "SelectFollowUp"
	CmdSkipFollowUp        CommandType = "SkipFollowUp"
	CmdEndCycle            CommandType = "EndCycle"
	CmdForceEndRound       CommandType = "ForceEndRound"
	CmdSpendFury           CommandType = "SpendFury"
	CmdAddFury             CommandType = "AddFury"
)

/*
	Commands carry every payload the engine needs. Randomness and ID
	generation happen before Apply (the session rolls dice and mints IDs),
	so replaying the same command list over the same state always yields
	the same document.

	CmdRollAP      -> EvtAPAssigned (one per combatant)
	CmdSelectAction -> EvtDeclarationSelected
	CmdAdvanceToResolution -> EvtPhaseChanged -> EvtResolutionOrderBuilt
	CmdResolveNext -> EvtDeclarationResolved [-> EvtWaitStarted] [-> EvtDeclarationResolved for skipped dones]
	CmdEndCycle    -> EvtPhaseChanged(cycle-end) -> EvtCycleEnded -> EvtPhaseChanged(declaration|round-end)
	CmdNextRound   -> EvtFuryBanked -> EvtPhaseChanged(round-start)
*/

type Command struct {
	Type        CommandType     `json:"type"`
	CombatantID string          `json:"combatantId,omitempty"`
	ActionID    ActionID        `json:"actionId,omitempty"`
	Combatant   *Combatant      `json:"combatant,omitempty"`
	Patch       *CombatantPatch `json:"patch,omitempty"`
	Status      Status          `json:"status,omitempty"`
	NewID       string          `json:"newId,omitempty"`
	AP          int             `json:"ap,omitempty"`
	Rolls       map[string]int  `json:"rolls,omitempty"`
	SpendKind   FurySpendKind   `json:"spendKind,omitempty"`
	Amount      int             `json:"amount,omitempty"`
	Tokens      []TokenRef      `json:"tokens,omitempty"`
	Roster      []Combatant     `json:"roster,omitempty"`
}

// CombatantPatch holds optional edits. Nil fields are left alone.
type CombatantPatch struct {
	Name       *string      `json:"name,omitempty"`
	HPCurrent  *int         `json:"hpCurrent,omitempty"`
	HPMax      *int         `json:"hpMax,omitempty"`
	AC         *int         `json:"ac,omitempty"`
	THAC0      *int         `json:"thac0,omitempty"`
	Dex        *DexCategory `json:"dexCategory,omitempty"`
	APBase     *int         `json:"apBase,omitempty"`
	APVariance *bool        `json:"apVariance,omitempty"`
	Surprised  *bool        `json:"surprised,omitempty"`
	OwnerID    *string      `json:"ownerId,omitempty"`
}

type TokenRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// CombatantID is the id to give the imported combatant.
	CombatantID string `json:"combatantId"`
}

type EventType string

const (
	EvtEncounterCreated     EventType = "EncounterCreated"
	EvtPhaseChanged         EventType = "PhaseChanged"
	EvtCombatantAdded       EventType = "CombatantAdded"
	EvtCombatantRemoved     EventType = "CombatantRemoved"
	EvtCombatantUpdated     EventType = "CombatantUpdated"
	EvtAPAssigned           EventType = "APAssigned"
	EvtDeclarationSelected  EventType = "DeclarationSelected"
	EvtDeclarationLocked    EventType = "DeclarationLocked"
	EvtDeclarationUnlocked  EventType = "DeclarationUnlocked"
	EvtDeclaredDone         EventType = "DeclaredDone"
	EvtDoneUndone           EventType = "DoneUndone"
	EvtResolutionOrderBuilt EventType = "ResolutionOrderBuilt"
	EvtDeclarationResolved  EventType = "DeclarationResolved"
	EvtWaitStarted          EventType = "WaitStarted"
	EvtFollowUpResolved     EventType = "FollowUpResolved"
	EvtFollowUpSkipped      EventType = "FollowUpSkipped"
	EvtCycleEnded           EventType = "CycleEnded"
	EvtFuryBanked           EventType = "FuryBanked"
	EvtFurySpent            EventType = "FurySpent"
	EvtFuryAdded            EventType = "FuryAdded"
	EvtCombatEnded          EventType = "CombatEnded"
)

type Event struct {
	Type        EventType `json:"type"`
	CombatantID string    `json:"combatantId,omitempty"`
	ActionID    ActionID  `json:"actionId,omitempty"`
	From        Phase     `json:"from,omitempty"`
	Phase       Phase     `json:"phase,omitempty"`
	Amount      int       `json:"amount,omitempty"`
}

// Apply runs cmd against s on behalf of actor. s is never modified; on
// rejection the original state is returned together with the error.
func Apply(s CombatState, actor Actor, cmd Command) ([]Event, CombatState, error) {
	if !actor.Role.Valid() {
		return nil, s, fmt.Errorf("%w: role %q", ErrInvalidInput, actor.Role)
	}

	handler, ok := handlers[cmd.Type]
	if !ok {
		return nil, s, ErrUnsupportedCommand
	}

	next := s.Clone()
	events, err := handler(&next, actor, cmd)
	if err != nil {
		return nil, s, err
	}
	return events, next, nil
}

type handlerFunc func(s *CombatState, actor Actor, cmd Command) ([]Event, error)

var handlers map[CommandType]handlerFunc

func init() {
	handlers = map[CommandType]handlerFunc{
		CmdCreateEncounter:     createEncounter,
		CmdStartCombat:         startCombat,
		CmdEndCombat:           endCombat,
		CmdNextRound:           nextRound,
		CmdAddCombatant:        addCombatant,
		CmdRemoveCombatant:     removeCombatant,
		CmdEditCombatant:       editCombatant,
		CmdToggleStatus:        toggleStatus,
		CmdSetStatus:           setStatus,
		CmdCopyCombatant:       copyCombatant,
		CmdImportTokens:        importTokens,
		CmdRollAP:              rollAP,
		CmdSetAP:               setAP,
		CmdBeginDeclaration:    beginDeclaration,
		CmdSelectAction:        selectAction,
		CmdLockDeclaration:     lockDeclaration,
		CmdUnlockDeclaration:   unlockDeclaration,
		CmdDeclareDone:         declareDone,
		CmdUndoDone:            undoDone,
		CmdAdvanceToResolution: advanceToResolution,
		CmdResolveNext:         resolveNext,
		CmdSelectFollowUp:      selectFollowUp,
		CmdSkipFollowUp:        skipFollowUp,
		CmdEndCycle:            endCycle,
		CmdForceEndRound:       forceEndRound,
		CmdSpendFury:           spendFury,
		CmdAddFury:             addFury,
	}
}
