// Package delivery resolves codes and re-delivers the referenced posts.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kino_bot/internal/model"
	"kino_bot/internal/storage"
)

// CodeStore looks codes up case-insensitively. It returns
// storage.ErrNotFound for unknown codes.
type CodeStore interface {
	GetCode(ctx context.Context, code string) (*model.Code, error)
}

// Copier copies a message to a chat. The copy must be protected from
// forwarding and saving, and delivered without a notification.
type Copier interface {
	CopyProtected(ctx context.Context, chatID, fromChatID int64, messageID int) error
}

// Status classifies the outcome of a resolve call.
type Status int

// Resolve statuses.
const (
	NotFound Status = iota
	Delivered
	Failed
	InFlight
)

func (s Status) String() string {
	switch s {
	case NotFound:
		return "not_found"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	case InFlight:
		return "in_flight"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome reports what a resolve call did.
type Outcome struct {
	Status    Status
	Code      string
	Delivered int
	// FailedPosts lists posts whose copy failed, in delivery order.
	FailedPosts []int
}

// Resolver maps codes to posts of the source channel and copies them to users.
type Resolver struct {
	codes  CodeStore
	copier Copier
	source int64
	pace   time.Duration
	log    *slog.Logger
	sleep  func(time.Duration)

	mu       sync.Mutex
	inFlight map[flightKey]struct{}
}

type flightKey struct {
	userID int64
	code   string
}

// NewResolver creates a Resolver copying posts from the source channel and
// waiting pace between consecutive posts of one code.
func NewResolver(codes CodeStore, copier Copier, source int64, pace time.Duration, log *slog.Logger) *Resolver {
	return &Resolver{
		codes:    codes,
		copier:   copier,
		source:   source,
		pace:     pace,
		log:      log,
		sleep:    time.Sleep,
		inFlight: make(map[flightKey]struct{}),
	}
}

// Resolve looks text up as a code and copies every referenced post to the
// user in stored order. A failed copy is logged and skipped. A second call
// for the same user and code while the first is still delivering returns
// InFlight without sending anything. An error is returned only when the
// code lookup itself fails.
func (r *Resolver) Resolve(ctx context.Context, userID int64, text string) (Outcome, error) {
	code, err := r.codes.GetCode(ctx, text)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Outcome{Status: NotFound}, nil
		}
		return Outcome{}, fmt.Errorf("get code: %w", err)
	}

	key := flightKey{userID: userID, code: model.CodeKey(code.Code)}
	if !r.acquire(key) {
		r.log.Info("delivery already in flight", "user_id", userID, "code", code.Code)
		return Outcome{Status: InFlight, Code: code.Code}, nil
	}
	defer r.release(key)

	out := Outcome{Code: code.Code}
	for i, postID := range code.PostIDs {
		if i > 0 && r.pace > 0 {
			r.sleep(r.pace)
		}
		if err := r.copier.CopyProtected(ctx, userID, r.source, postID); err != nil {
			r.log.Error("copy post", "user_id", userID, "code", code.Code, "post_id", postID, "error", err)
			out.FailedPosts = append(out.FailedPosts, postID)
			continue
		}
		out.Delivered++
	}

	if out.Delivered > 0 {
		out.Status = Delivered
	} else {
		out.Status = Failed
	}

	r.log.Info("code resolved",
		"user_id", userID,
		"code", code.Code,
		"delivered", out.Delivered,
		"failed", len(out.FailedPosts),
	)
	return out, nil
}

func (r *Resolver) acquire(key flightKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inFlight[key]; ok {
		return false
	}
	r.inFlight[key] = struct{}{}
	return true
}

func (r *Resolver) release(key flightKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, key)
}
