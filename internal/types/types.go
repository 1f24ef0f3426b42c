package types

import (
	"encoding/json"

	"github.com/DoyleJ11/tactical-initiative/internal/engine"
)

// Client -> Server
// command:
//   command: { type: CommandType, combatantId?, actionId?, ... }
//
// broadcast:
//   channel: string
//   payload: any (relayed untouched to the other peers)
//
// Server -> Client
// state:
//   state?: CombatState (absent while no encounter exists)
//   events: Event[] (only on the reply to this peer's own command)
//
// error:
//   error: string
//
// broadcast:
//   channel: string
//   payload: any

const (
	MsgCommand   = "command"
	MsgBroadcast = "broadcast"
	MsgState     = "state"
	MsgError     = "error"
)

type ClientMessage struct {
	Type    string          `json:"type"` // "command" | "broadcast"
	Command *engine.Command `json:"command,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ServerMessage struct {
	Type    string              `json:"type"` // "state" | "error" | "broadcast"
	State   *engine.CombatState `json:"state,omitempty"`
	Events  []engine.Event      `json:"events,omitempty"`
	Error   string              `json:"error,omitempty"`
	Channel string              `json:"channel,omitempty"`
	Payload json.RawMessage     `json:"payload,omitempty"`
}
