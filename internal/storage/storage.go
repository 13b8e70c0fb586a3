// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"kino_bot/internal/model"
)

// Sentinel errors returned by Storage implementations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	ListAdmins(ctx context.Context) ([]model.Admin, error)
	IsAdmin(ctx context.Context, id int64) (bool, error)
	CreateAdmin(ctx context.Context, a *model.Admin) error
	DeleteAdmin(ctx context.Context, id int64) error

	ListChannels(ctx context.Context) ([]model.Channel, error)
	GetChannel(ctx context.Context, id int64) (*model.Channel, error)
	CreateChannel(ctx context.Context, c *model.Channel) error
	DeleteChannel(ctx context.Context, id int64) error

	GetCode(ctx context.Context, code string) (*model.Code, error)
	ListCodes(ctx context.Context) ([]model.Code, error)
	CreateCode(ctx context.Context, c *model.Code) error
	UpdateCodePosts(ctx context.Context, code string, postIDs []int) error
	DeleteCode(ctx context.Context, code string) error

	TouchUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	SetUserPhone(ctx context.Context, id int64, phone string) error
	ListUsers(ctx context.Context) ([]model.User, error)

	SaveSubscription(ctx context.Context, s *model.Subscription) error
	GetSubscription(ctx context.Context, userID int64) (*model.Subscription, error)

	Stats(ctx context.Context, since time.Time) (*model.Stats, error)

	Close() error
}
