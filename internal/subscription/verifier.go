// Package subscription checks that a user belongs to every mandatory channel.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kino_bot/internal/model"
)

// Member status values reported by the messaging platform.
const (
	StatusCreator       = "creator"
	StatusAdministrator = "administrator"
	StatusMember        = "member"
	StatusRestricted    = "restricted"
	StatusLeft          = "left"
	StatusKicked        = "kicked"
)

// Member is a user's membership in one chat as reported by the platform.
type Member struct {
	Status string
	// IsMember is only meaningful for restricted users.
	IsMember bool
}

// Present reports whether the member counts as joined.
func (m Member) Present() bool {
	switch m.Status {
	case StatusCreator, StatusAdministrator, StatusMember:
		return true
	case StatusRestricted:
		return m.IsMember
	default:
		return false
	}
}

// Oracle reports the membership of a user in a channel.
type Oracle interface {
	Membership(ctx context.Context, channelID, userID int64) (Member, error)
}

// Store is the part of the record store the verifier needs.
type Store interface {
	ListChannels(ctx context.Context) ([]model.Channel, error)
	SaveSubscription(ctx context.Context, s *model.Subscription) error
}

// Outcome is the result of checking a single channel.
type Outcome int

// Channel check outcomes.
const (
	Present Outcome = iota
	Absent
	QueryFailed
)

func (o Outcome) String() string {
	switch o {
	case Present:
		return "present"
	case Absent:
		return "absent"
	case QueryFailed:
		return "query_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Check is the outcome for one configured channel.
type Check struct {
	Channel model.Channel
	Outcome Outcome
	Err     error
}

// Result is the outcome of a full verification pass.
type Result struct {
	// Missing lists channels the user must still join, in configured order.
	Missing []model.Channel
	Checks  []Check
}

// Satisfied reports whether the user belongs to every mandatory channel.
func (r Result) Satisfied() bool {
	return len(r.Missing) == 0
}

// Failures returns the checks whose query failed.
func (r Result) Failures() []Check {
	var out []Check
	for _, c := range r.Checks {
		if c.Outcome == QueryFailed {
			out = append(out, c)
		}
	}
	return out
}

// Verifier checks mandatory channel membership.
type Verifier struct {
	store  Store
	oracle Oracle
	log    *slog.Logger
	now    func() time.Time
}

// NewVerifier creates a Verifier.
func NewVerifier(store Store, oracle Oracle, log *slog.Logger) *Verifier {
	return &Verifier{
		store:  store,
		oracle: oracle,
		log:    log,
		now:    time.Now,
	}
}

// Verify queries every configured channel once. A failed query counts as a
// missing channel. An error is returned only when the channel list cannot
// be loaded, in which case the user must not be let through.
func (v *Verifier) Verify(ctx context.Context, userID int64) (Result, error) {
	channels, err := v.store.ListChannels(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list channels: %w", err)
	}

	var res Result
	for _, ch := range channels {
		check := v.check(ctx, ch, userID)
		res.Checks = append(res.Checks, check)

		switch check.Outcome {
		case Present:
		case Absent:
			res.Missing = append(res.Missing, ch)
		case QueryFailed:
			// Fail closed: an unanswered query never grants access.
			res.Missing = append(res.Missing, ch)
		}
	}

	if res.Satisfied() && len(channels) > 0 {
		sub := &model.Subscription{UserID: userID, Subscribed: true, CheckedAt: v.now()}
		if err := v.store.SaveSubscription(ctx, sub); err != nil {
			v.log.Error("save subscription", "user_id", userID, "error", err)
		}
	}

	v.log.Debug("verified subscription",
		"user_id", userID,
		"channels", len(channels),
		"missing", len(res.Missing),
	)
	return res, nil
}

func (v *Verifier) check(ctx context.Context, ch model.Channel, userID int64) Check {
	m, err := v.oracle.Membership(ctx, ch.ID, userID)
	if err != nil {
		v.log.Warn("membership query failed", "channel_id", ch.ID, "user_id", userID, "error", err)
		return Check{Channel: ch, Outcome: QueryFailed, Err: err}
	}
	if m.Present() {
		return Check{Channel: ch, Outcome: Present}
	}
	return Check{Channel: ch, Outcome: Absent}
}
