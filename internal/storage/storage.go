// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"

	"webwatch_bot/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateTarget(ctx context.Context, t *model.Target) error
	GetTarget(ctx context.Context, chatID int64, url string) (*model.Target, error)
	GetTargetByID(ctx context.Context, id int64) (*model.Target, error)
	ListTargets(ctx context.Context, chatID int64) ([]model.Target, error)
	ListAllTargets(ctx context.Context) ([]model.Target, error)
	UpdateTarget(ctx context.Context, t *model.Target) error
	DeleteTarget(ctx context.Context, chatID int64, url string) error

	// UpdateAfterPoll persists the outcome of one poll cycle: the new page
	// fingerprint and the URLs of files delivered during the cycle, in a
	// single transaction. Seen URLs are insert-only; the set never shrinks
	// while the target exists.
	UpdateAfterPoll(ctx context.Context, targetID int64, fingerprint string, seenURLs []string) error
	ListSeenFiles(ctx context.Context, targetID int64) (map[string]bool, error)
	UpdateLastCheck(ctx context.Context, targetID int64) error

	Close() error
}
