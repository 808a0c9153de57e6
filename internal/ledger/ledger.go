// Package ledger keeps the bounded, persisted set of item ids that were
// already delivered.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nandu-collab/marketpulse-bot/internal/ports"
)

// DefaultCapacity bounds the ledger when no capacity is configured.
const DefaultCapacity = 500

// Entry is one delivered id.
type Entry struct {
	ID         string
	InsertedAt time.Time
}

// Ledger is a FIFO ring of the most recently delivered ids. Once full, each
// new id evicts the oldest one.
type Ledger struct {
	mu      sync.RWMutex
	buf     []Entry
	head    int
	size    int
	index   map[string]struct{}
	pending map[string]struct{}

	saveMu sync.Mutex
	store  ports.LedgerStore
	logger *slog.Logger
	now    func() time.Time
}

var _ ports.Ledger = (*Ledger)(nil)

// New builds an empty ledger. A nil store keeps the ledger in memory only.
func New(capacity int, store ports.LedgerStore, logger *slog.Logger) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		buf:     make([]Entry, capacity),
		index:   make(map[string]struct{}, capacity),
		pending: map[string]struct{}{},
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// Load replaces the ledger contents with the persisted snapshot. Any store
// failure leaves the ledger empty and is only logged.
func (l *Ledger) Load(ctx context.Context) {
	if l.store == nil {
		return
	}

	ids, err := l.store.Load(ctx)
	if err != nil {
		l.logger.Warn("ledger load failed, starting empty", "error", err)
		ids = nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.reset()
	now := l.now()
	for _, id := range ids {
		if id == "" {
			continue
		}
		l.insert(Entry{ID: id, InsertedAt: now})
	}
	l.logger.Info("ledger loaded", "entries", l.size, "capacity", len(l.buf))
}

// Contains reports whether id was already delivered.
func (l *Ledger) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[id]
	return ok
}

// Reserve claims id for an in-flight send. It fails when id is already
// recorded or claimed by someone else.
func (l *Ledger) Reserve(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[id]; ok {
		return false
	}
	if _, ok := l.pending[id]; ok {
		return false
	}
	l.pending[id] = struct{}{}
	return true
}

// Release drops a claim taken by Reserve without recording the id.
func (l *Ledger) Release(id string) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

// Record marks id as delivered and persists the snapshot. Recording an id
// that is already present changes nothing. Persistence errors are logged.
func (l *Ledger) Record(ctx context.Context, id string) {
	if id == "" {
		return
	}

	l.mu.Lock()
	delete(l.pending, id)
	if _, ok := l.index[id]; ok {
		l.mu.Unlock()
		return
	}
	l.insert(Entry{ID: id, InsertedAt: l.now()})
	l.mu.Unlock()

	if err := l.Save(ctx); err != nil {
		l.logger.Warn("ledger save failed", "id", id, "error", err)
	}
}

// Save writes the current snapshot to the store.
func (l *Ledger) Save(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	l.saveMu.Lock()
	defer l.saveMu.Unlock()
	return l.store.Save(ctx, l.IDs())
}

// Len returns the number of recorded ids.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity returns the configured bound.
func (l *Ledger) Capacity() int {
	return len(l.buf)
}

// IDs returns recorded ids, oldest first.
func (l *Ledger) IDs() []string {
	entries := l.Entries()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// Entries returns recorded entries, oldest first.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.head+i)%len(l.buf)]
	}
	return out
}

// insert appends e, evicting the oldest entry when full. Caller holds mu.
func (l *Ledger) insert(e Entry) {
	if _, ok := l.index[e.ID]; ok {
		return
	}

	capacity := len(l.buf)
	if l.size == capacity {
		oldest := l.buf[l.head]
		delete(l.index, oldest.ID)
		l.buf[l.head] = e
		l.head = (l.head + 1) % capacity
	} else {
		l.buf[(l.head+l.size)%capacity] = e
		l.size++
	}
	l.index[e.ID] = struct{}{}
}

func (l *Ledger) reset() {
	for i := range l.buf {
		l.buf[i] = Entry{}
	}
	l.head, l.size = 0, 0
	l.index = make(map[string]struct{}, len(l.buf))
}
