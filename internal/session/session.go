// Package session keeps short-lived per-user state: the menu mode, an
// in-progress admin action, and a code submitted before the user passed the
// subscription check.
package session

import (
	"context"
	"fmt"
	"strings"
)

// Mode is the menu a user currently sees.
type Mode string

// Menu modes.
const (
	ModeUser  Mode = "user"
	ModeAdmin Mode = "admin"
)

// Action is an admin data-entry step waiting for the next text message.
type Action string

// Admin actions.
const (
	ActionNone          Action = ""
	ActionAddAdmin      Action = "add_admin"
	ActionDeleteAdmin   Action = "delete_admin"
	ActionAddChannel    Action = "add_channel"
	ActionDeleteChannel Action = "delete_channel"
)

func (a Action) valid() bool {
	switch a {
	case ActionNone, ActionAddAdmin, ActionDeleteAdmin, ActionAddChannel, ActionDeleteChannel:
		return true
	}
	return false
}

// State is a user's session. The zero value is user mode with no action.
// An action can only be attached in admin mode.
type State struct {
	mode   Mode
	action Action
}

// UserMode returns the user-facing state.
func UserMode() State { return State{mode: ModeUser} }

// AdminMode returns the admin state with no pending action.
func AdminMode() State { return State{mode: ModeAdmin} }

// Mode returns the menu mode.
func (s State) Mode() Mode {
	if s.mode == "" {
		return ModeUser
	}
	return s.mode
}

// Action returns the pending admin action, if any.
func (s State) Action() Action { return s.action }

// IsAdmin reports whether the state is admin mode.
func (s State) IsAdmin() bool { return s.Mode() == ModeAdmin }

// WithAction attaches an admin action. It fails outside admin mode.
func (s State) WithAction(a Action) (State, error) {
	if !a.valid() {
		return s, fmt.Errorf("unknown action %q", a)
	}
	if a != ActionNone && !s.IsAdmin() {
		return s, fmt.Errorf("action %q requires admin mode", a)
	}
	return State{mode: s.Mode(), action: a}, nil
}

// ClearAction drops the pending admin action.
func (s State) ClearAction() State {
	return State{mode: s.Mode()}
}

// String encodes the state as "user", "admin" or "admin:<action>".
func (s State) String() string {
	if s.action == ActionNone {
		return string(s.Mode())
	}
	return string(s.Mode()) + ":" + string(s.action)
}

// ParseState decodes a value produced by State.String.
func ParseState(v string) (State, error) {
	mode, action, _ := strings.Cut(v, ":")
	var s State
	switch Mode(mode) {
	case ModeUser:
		s = UserMode()
	case ModeAdmin:
		s = AdminMode()
	default:
		return State{}, fmt.Errorf("unknown mode %q", mode)
	}
	return s.WithAction(Action(action))
}

// Sessions stores the session state of each user.
type Sessions interface {
	// State returns the stored state and whether one was stored.
	State(ctx context.Context, userID int64) (State, bool, error)
	SetState(ctx context.Context, userID int64, s State) error
}

// PendingCodes holds at most one code per user. Setting a code replaces
// the previous one; taking it clears the slot.
type PendingCodes interface {
	SetPending(ctx context.Context, userID int64, code string) error
	TakePending(ctx context.Context, userID int64) (string, bool, error)
}

// Store combines both kinds of per-user state.
type Store interface {
	Sessions
	PendingCodes
}
