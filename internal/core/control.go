package core

import (
	"encoding/json"

	"hft/internal/risk"
	"hft/internal/state"
)

// CommandKind selects a control-plane operation.
type CommandKind uint8

const (
	CommandStatus CommandKind = iota + 1
	CommandRiskLimits
	CommandKillSwitch
	CommandEnableStrategy
	CommandDisableStrategy
	CommandCancelAll
	CommandCheckpoint
)

func (k CommandKind) String() string {
	switch k {
	case CommandStatus:
		return "status"
	case CommandRiskLimits:
		return "risk_limits"
	case CommandKillSwitch:
		return "kill_switch"
	case CommandEnableStrategy:
		return "enable_strategy"
	case CommandDisableStrategy:
		return "disable_strategy"
	case CommandCancelAll:
		return "cancel_all"
	case CommandCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// Command is an operator request served by the event loop at the lowest
// priority.
type Command struct {
	Kind       CommandKind  `json:"kind"`
	StrategyID uint32       `json:"strategyId,omitempty"`
	On         bool         `json:"on,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Risk       *risk.Config `json:"risk,omitempty"`

	reply chan Reply
}

// Reply is the loop's answer to a Command.
type Reply struct {
	Status   *Status
	Snapshot *state.Snapshot
	Canceled int
	Err      error
}

type controlRecord struct {
	Kind       string `json:"kind"`
	StrategyID uint32 `json:"strategyId,omitempty"`
	On         bool   `json:"on,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Version    uint16 `json:"version,omitempty"`
}

func encodeControl(cmd Command, version uint16) []byte {
	b, _ := json.Marshal(controlRecord{
		Kind:       cmd.Kind.String(),
		StrategyID: cmd.StrategyID,
		On:         cmd.On,
		Reason:     cmd.Reason,
		Version:    version,
	})
	return b
}
