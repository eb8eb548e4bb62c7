// Package org models the state of the banks served by a memory controller.
package org

import (
	"log"

	"github.com/sarchlab/rowarmor/mem/dram/internal/signal"
)

// Action is the last command a bank has executed.
type Action int

// A list of all bank actions.
const (
	ActionIdle Action = iota
	ActionActivate
	ActionRead
	ActionWrite
	ActionPrecharge
	ActionRefresh
)

var actionNames = [...]string{
	"idle", "activate", "read", "write", "precharge", "refresh",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}

	return "unknown"
}

// RowOpen returns true if the bank holds an open row after the action.
func (a Action) RowOpen() bool {
	return a == ActionActivate || a == ActionRead || a == ActionWrite
}

// Effect is a statistic side effect of a transition.
type Effect uint8

// EffectNone is a transition without side effects.
const EffectNone Effect = 0

// A list of side effects.
const (
	EffectActivation Effect = 1 << iota
	EffectPrecharge
	EffectColumnRead
	EffectColumnWrite
	EffectRefresh
	EffectRFM
)

// Has returns true if e includes every bit of other.
func (e Effect) Has(other Effect) bool {
	return e&other == other
}

// Step is the outcome of applying a command to a bank.
type Step struct {
	Next Action

	// Prev overrides the recorded previous action. If it is nil, the action
	// before the transition is recorded.
	Prev    *Action
	Effects Effect
}

var refreshPrev = ActionRefresh

type transitionKey struct {
	from Action
	cmd  signal.CommandKind
}

var transitions = map[transitionKey]Step{}

func allow(cmd signal.CommandKind, step Step, from ...Action) {
	for _, f := range from {
		transitions[transitionKey{f, cmd}] = step
	}
}

func init() {
	closed := []Action{ActionIdle, ActionPrecharge}
	open := []Action{ActionActivate, ActionRead, ActionWrite}
	all := []Action{
		ActionIdle, ActionActivate, ActionRead,
		ActionWrite, ActionPrecharge,
	}

	allow(signal.CmdKindActivate,
		Step{Next: ActionActivate, Effects: EffectActivation}, closed...)

	// A precharge that chains straight into the next activation.
	allow(signal.CmdKindActivate,
		Step{Next: ActionActivate, Effects: EffectActivation}, open...)

	allow(signal.CmdKindRead,
		Step{Next: ActionRead, Effects: EffectColumnRead}, open...)
	allow(signal.CmdKindWrite,
		Step{Next: ActionWrite, Effects: EffectColumnWrite}, open...)
	allow(signal.CmdKindPrecharge,
		Step{Next: ActionPrecharge, Effects: EffectPrecharge}, open...)

	allow(signal.CmdKindRefresh,
		Step{Next: ActionPrecharge, Prev: &refreshPrev, Effects: EffectRefresh},
		all...)
	allow(signal.CmdKindPreventiveRefresh,
		Step{Next: ActionPrecharge, Prev: &refreshPrev}, all...)
	allow(signal.CmdKindRowSwap,
		Step{Next: ActionPrecharge, Prev: &refreshPrev}, all...)
	allow(signal.CmdKindRFM,
		Step{Next: ActionPrecharge, Effects: EffectRFM}, all...)
}

// Transition looks up the step a command takes from a bank action. The second
// return value is false if the command is illegal in that state.
func Transition(from Action, cmd signal.CommandKind) (Step, bool) {
	s, ok := transitions[transitionKey{from, cmd}]
	return s, ok
}

// MustTransition is like Transition, but panics on an illegal command.
func MustTransition(from Action, cmd signal.CommandKind) Step {
	s, ok := Transition(from, cmd)
	if !ok {
		log.Panicf("illegal command %s on a bank in state %s", cmd, from)
	}

	return s
}
