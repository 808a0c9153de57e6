package ports

import (
	"context"
	"errors"
	"time"

	"github.com/nandu-collab/marketpulse-bot/internal/domain"
	"github.com/nandu-collab/marketpulse-bot/internal/gate"
)

// ItemSource pulls normalized items for a named source group. It never
// fails: broken upstreams simply contribute nothing.
type ItemSource interface {
	Fetch(ctx context.Context, group string) []domain.Item
}

// LedgerStore persists the dedup ledger snapshot, oldest id first.
type LedgerStore interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, ids []string) error
}

// Ledger is the dedup state consulted before and advanced after every post.
type Ledger interface {
	Contains(id string) bool
	Reserve(id string) bool
	Release(id string)
	Record(ctx context.Context, id string)
	Len() int
}

// Notifier delivers one formatted message, with an optional action link,
// to the output channel.
type Notifier interface {
	Send(ctx context.Context, text, link string) error
}

// Job is the body of a scheduled job. now is the trigger time in the
// scheduler's location.
type Job func(ctx context.Context, now time.Time) error

// Scheduler runs named jobs on triggers. Registering an existing name
// replaces it.
type Scheduler interface {
	Register(name string, trigger gate.Trigger, job Job) error
}

var (
	// ErrRateLimited marks a send refused by the transport's rate limit even
	// after the mandated backoff and one retry.
	ErrRateLimited = errors.New("delivery rate limited")
	// ErrPermanent marks a send that cannot succeed by retrying (bad markup,
	// unknown chat, revoked token).
	ErrPermanent = errors.New("delivery failed permanently")
)
