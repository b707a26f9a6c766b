// SPDX-License-Identifier: MIT

// Package types provides type-safe enumerations and constants for kanzelcast.
//
// This package centralizes all typed constants, enums, and state types
// to prevent string-based bugs and improve code maintainability.
package types

import (
	"encoding/json"
	"fmt"
)

// SessionState represents the lifecycle state of one broadcast session.
//
// SessionState provides type safety for session state management, preventing
// string-based typos and enabling exhaustive switch statements.
type SessionState string

// Session state constants define all possible states of a broadcast session.
const (
	// SessionStateIdle indicates no session is in progress.
	SessionStateIdle SessionState = "idle"

	// SessionStatePreparing indicates a start request was accepted but no
	// output has been confirmed running yet.
	SessionStatePreparing SessionState = "preparing"

	// SessionStateActive indicates at least one output (stream or record)
	// is confirmed running.
	SessionStateActive SessionState = "active"

	// SessionStatePaused indicates connectivity to the broadcast backend
	// was lost while outputs were running. Informational only.
	SessionStatePaused SessionState = "paused"

	// SessionStateFinalizing indicates all outputs have stopped and the
	// post-broadcast automation (recording scan, upload) is in progress.
	SessionStateFinalizing SessionState = "finalizing"

	// SessionStateCompleted indicates the session finished. Terminal until
	// the machine resets for the next broadcast.
	SessionStateCompleted SessionState = "completed"
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	return string(s)
}

// IsValid checks whether the session state is one of the defined constants.
func (s SessionState) IsValid() bool {
	switch s {
	case SessionStateIdle, SessionStatePreparing, SessionStateActive,
		SessionStatePaused, SessionStateFinalizing, SessionStateCompleted:
		return true
	default:
		return false
	}
}

// IsTerminal checks whether the session state is final.
//
// Only Completed is terminal; a completed session does not transition
// again until the machine resets to Idle for the next broadcast.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateCompleted
}

// CanTransitionTo checks whether this state may transition to target.
//
// Valid transitions:
//   - Idle → Preparing
//   - Preparing → Active
//   - Active → Paused, Finalizing
//   - Paused → Active
//   - Finalizing → Completed
//   - any non-terminal state → Completed (explicit user finalize)
func (s SessionState) CanTransitionTo(target SessionState) bool {
	if s.IsTerminal() {
		return false
	}

	// Explicit finalize is allowed from every non-terminal state.
	if target == SessionStateCompleted {
		return true
	}

	switch s {
	case SessionStateIdle:
		return target == SessionStatePreparing
	case SessionStatePreparing:
		return target == SessionStateActive
	case SessionStateActive:
		return target == SessionStatePaused || target == SessionStateFinalizing
	case SessionStatePaused:
		return target == SessionStateActive
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler for SessionState.
func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler for SessionState.
func (s *SessionState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	state := SessionState(str)
	if !state.IsValid() {
		return fmt.Errorf("invalid session state: %q", str)
	}

	*s = state
	return nil
}

// ParseSessionState parses a string into a SessionState.
func ParseSessionState(s string) (SessionState, error) {
	state := SessionState(s)
	if !state.IsValid() {
		return "", fmt.Errorf("invalid session state: %q (valid: idle, preparing, active, paused, finalizing, completed)", s)
	}
	return state, nil
}

// AllSessionStates returns all defined session states.
func AllSessionStates() []SessionState {
	return []SessionState{
		SessionStateIdle,
		SessionStatePreparing,
		SessionStateActive,
		SessionStatePaused,
		SessionStateFinalizing,
		SessionStateCompleted,
	}
}
