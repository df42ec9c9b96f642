package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"feebot/internal/fees"
	"feebot/internal/platform"
)

var (
	ErrDuplicate = errors.New("subscription already exists")
	ErrNotFound  = errors.New("subscription not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (pure Go driver)
//   - "memory": process memory, lost on restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Subscription is one recipient's alert for a fee pair.
// (Platform, Recipient, From, To) is unique.
type Subscription struct {
	ID        int64
	Platform  platform.Platform
	Recipient platform.Recipient
	From      string
	To        string
	Threshold decimal.Decimal
	CreatedAt time.Time
}

func (s Subscription) String() string {
	return fmt.Sprintf("Subscription(id=%d, %s:%s, %s -> %s at %s%%)", s.ID, s.Platform, s.Recipient, s.From, s.To, s.Threshold)
}

// Filter narrows subscription queries. Zero fields match everything.
type Filter struct {
	Platform  platform.Platform
	Recipient platform.Recipient
}

// Store is the persistence API used by the dispatcher and dialogs.
type Store interface {
	// GetSnapshot returns the last stored table for key; ok is false when none exists.
	GetSnapshot(ctx context.Context, key string) (t fees.Table, ok bool, err error)
	// PutSnapshot replaces the table stored under key.
	PutSnapshot(ctx context.Context, key string, t fees.Table) error

	// AddSubscription inserts s and sets its ID and CreatedAt.
	// It returns ErrDuplicate when the pair is already subscribed.
	AddSubscription(ctx context.Context, s *Subscription) error
	Subscription(ctx context.Context, id int64) (Subscription, error)
	Subscriptions(ctx context.Context, f Filter) ([]Subscription, error)
	UpdateThreshold(ctx context.Context, id int64, threshold decimal.Decimal) error
	DeleteSubscription(ctx context.Context, id int64) error
	// DeleteSubscriptions removes every match and reports how many were removed.
	DeleteSubscriptions(ctx context.Context, f Filter) (int64, error)

	Close() error
}
