package usecase

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nandu-collab/marketpulse-bot/internal/domain"
	"github.com/nandu-collab/marketpulse-bot/internal/gate"
	"github.com/nandu-collab/marketpulse-bot/internal/logging"
	"github.com/nandu-collab/marketpulse-bot/internal/metrics"
	"github.com/nandu-collab/marketpulse-bot/internal/ports"
)

// Skip reasons reported to metrics.
const (
	SkipQuietHours    = "quiet_hours"
	SkipOutsideWindow = "outside_trading_window"
	SkipDailyCap      = "daily_cap"
	SkipNotTradingDay = "not_trading_day"
	SkipAlreadyPosted = "already_posted"
	SkipNothingToPost = "nothing_to_post"
)

// NewsPolicy bounds when and how much the rolling news job posts.
type NewsPolicy struct {
	Quiet   gate.Window
	Trading gate.Window
	PerSlot int
	PerDay  int
}

// RollingNewsJob posts the newest unseen headlines on every tick.
type RollingNewsJob struct {
	name      string
	group     string
	source    ports.ItemSource
	deliverer *Deliverer
	policy    NewsPolicy
	metrics   metrics.Recorder
	logger    *slog.Logger

	mu        sync.Mutex
	day       string
	sentToday int
}

// NewRollingNewsJob wires the rolling news job for a source group.
func NewRollingNewsJob(name, group string, source ports.ItemSource, deliverer *Deliverer, policy NewsPolicy, rec metrics.Recorder, logger *slog.Logger) *RollingNewsJob {
	if policy.PerSlot <= 0 {
		policy.PerSlot = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RollingNewsJob{
		name:      name,
		group:     group,
		source:    source,
		deliverer: deliverer,
		policy:    policy,
		metrics:   metrics.OrNop(rec),
		logger:    logger,
	}
}

// Name is the scheduler key.
func (j *RollingNewsJob) Name() string {
	return j.name
}

// Run gates on quiet hours, the trading window and the daily cap before any
// network work, then delivers up to PerSlot new items, newest first.
func (j *RollingNewsJob) Run(ctx context.Context, now time.Time) error {
	logger := logging.FromContext(ctx, j.logger)

	if j.policy.Quiet.Enabled() && j.policy.Quiet.Contains(now) {
		j.skip(logger, SkipQuietHours, now)
		return nil
	}
	if j.policy.Trading.Enabled() && !j.policy.Trading.Contains(now) {
		j.skip(logger, SkipOutsideWindow, now)
		return nil
	}

	limit := j.policy.PerSlot
	if j.policy.PerDay > 0 {
		remaining := j.remaining(now)
		if remaining <= 0 {
			j.skip(logger, SkipDailyCap, now)
			return nil
		}
		limit = min(limit, remaining)
	}

	items := j.source.Fetch(ctx, j.group)
	newestFirst(items)

	sent := j.deliverer.Deliver(ctx, items, limit)
	j.addSent(now, sent)
	logger.Info("news tick done", "candidates", len(items), "sent", sent)
	return nil
}

func (j *RollingNewsJob) skip(logger *slog.Logger, reason string, now time.Time) {
	j.metrics.JobSkipped(j.name, reason)
	logger.Debug("news tick skipped", "reason", reason, "local_time", now.Format("15:04"))
}

// remaining returns how many posts the daily cap still allows. The counter
// resets when the local date changes.
func (j *RollingNewsJob) remaining(now time.Time) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rollDay(now)
	return j.policy.PerDay - j.sentToday
}

func (j *RollingNewsJob) addSent(now time.Time, n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rollDay(now)
	j.sentToday += n
}

func (j *RollingNewsJob) rollDay(now time.Time) {
	if day := now.Format(time.DateOnly); day != j.day {
		j.day = day
		j.sentToday = 0
	}
}

// newestFirst orders by publication time; undated items keep their relative
// order after dated ones.
func newestFirst(items []domain.Item) {
	sort.SliceStable(items, func(a, b int) bool {
		ta, tb := items[a].PublishedAt, items[b].PublishedAt
		if ta.IsZero() || tb.IsZero() {
			return !ta.IsZero() && tb.IsZero()
		}
		return ta.After(tb)
	})
}
