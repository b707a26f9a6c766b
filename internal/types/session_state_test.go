// SPDX-License-Identifier: MIT

package types

import (
	"encoding/json"
	"testing"
)

func TestSessionState_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		state SessionState
		want  bool
	}{
		{"idle valid", SessionStateIdle, true},
		{"preparing valid", SessionStatePreparing, true},
		{"active valid", SessionStateActive, true},
		{"paused valid", SessionStatePaused, true},
		{"finalizing valid", SessionStateFinalizing, true},
		{"completed valid", SessionStateCompleted, true},
		{"invalid empty", SessionState(""), false},
		{"invalid unknown", SessionState("stalled"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.want {
				t.Errorf("SessionState.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name   string
		from   SessionState
		to     SessionState
		want   bool
	}{
		{"idle to preparing", SessionStateIdle, SessionStatePreparing, true},
		{"preparing to active", SessionStatePreparing, SessionStateActive, true},
		{"active to paused", SessionStateActive, SessionStatePaused, true},
		{"active to finalizing", SessionStateActive, SessionStateFinalizing, true},
		{"paused to active", SessionStatePaused, SessionStateActive, true},
		{"finalizing to completed", SessionStateFinalizing, SessionStateCompleted, true},

		// Explicit user finalize from any non-terminal state.
		{"idle to completed", SessionStateIdle, SessionStateCompleted, true},
		{"preparing to completed", SessionStatePreparing, SessionStateCompleted, true},
		{"active to completed", SessionStateActive, SessionStateCompleted, true},
		{"paused to completed", SessionStatePaused, SessionStateCompleted, true},

		// Rejected transitions.
		{"idle to finalizing", SessionStateIdle, SessionStateFinalizing, false},
		{"idle to active", SessionStateIdle, SessionStateActive, false},
		{"preparing to paused", SessionStatePreparing, SessionStatePaused, false},
		{"paused to finalizing", SessionStatePaused, SessionStateFinalizing, false},
		{"finalizing to active", SessionStateFinalizing, SessionStateActive, false},
		{"completed to preparing", SessionStateCompleted, SessionStatePreparing, false},
		{"completed to completed", SessionStateCompleted, SessionStateCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestSessionState_JSONRoundTrip(t *testing.T) {
	for _, state := range AllSessionStates() {
		data, err := json.Marshal(state)
		if err != nil {
			t.Fatalf("marshal %s: %v", state, err)
		}

		var got SessionState
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", state, err)
		}
		if got != state {
			t.Errorf("round trip = %v, want %v", got, state)
		}
	}
}

func TestSessionState_UnmarshalRejectsUnknown(t *testing.T) {
	var s SessionState
	if err := json.Unmarshal([]byte(`"draining"`), &s); err == nil {
		t.Error("expected error for unknown session state")
	}
}

func TestParseSessionState(t *testing.T) {
	if _, err := ParseSessionState("finalizing"); err != nil {
		t.Errorf("ParseSessionState(finalizing) unexpected error: %v", err)
	}
	if _, err := ParseSessionState("bogus"); err == nil {
		t.Error("ParseSessionState(bogus) expected error")
	}
}
