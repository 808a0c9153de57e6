package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nandu-collab/marketpulse-bot/internal/domain"
	"github.com/nandu-collab/marketpulse-bot/internal/format"
	"github.com/nandu-collab/marketpulse-bot/internal/gate"
	"github.com/nandu-collab/marketpulse-bot/internal/logging"
	"github.com/nandu-collab/marketpulse-bot/internal/metrics"
	"github.com/nandu-collab/marketpulse-bot/internal/ports"
)

const (
	digestDateLayout = "Mon 02 Jan 2006"
	ipoSummaryChars  = 250
)

// Composer folds the fetched items into one digest item. ok is false when
// there is nothing worth posting.
type Composer func(now time.Time, items []domain.Item) (digest domain.Item, ok bool)

// DigestSpec describes one fixed-time digest job.
type DigestSpec struct {
	Name        string
	Group       string
	TradingOnly bool
	Compose     Composer
}

// DigestJob posts at most one digest per local day.
type DigestJob struct {
	spec      DigestSpec
	source    ports.ItemSource
	deliverer *Deliverer
	holidays  gate.Holidays
	metrics   metrics.Recorder
	logger    *slog.Logger
}

// NewDigestJob wires a digest job.
func NewDigestJob(spec DigestSpec, source ports.ItemSource, deliverer *Deliverer, holidays gate.Holidays, rec metrics.Recorder, logger *slog.Logger) *DigestJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &DigestJob{
		spec:      spec,
		source:    source,
		deliverer: deliverer,
		holidays:  holidays,
		metrics:   metrics.OrNop(rec),
		logger:    logger,
	}
}

// Name is the scheduler key.
func (j *DigestJob) Name() string {
	return j.spec.Name
}

// DigestID is the ledger id of job's digest for now's local date.
func DigestID(job string, now time.Time) string {
	return job + "|" + now.Format(time.DateOnly)
}

// Run gates on trading days, then composes and delivers the digest. The
// digest id is per job and day, so a restart cannot post the same day's
// digest twice.
func (j *DigestJob) Run(ctx context.Context, now time.Time) error {
	logger := logging.FromContext(ctx, j.logger)

	if j.spec.TradingOnly && !gate.IsTradingDay(now, j.holidays) {
		j.skip(logger, SkipNotTradingDay)
		return nil
	}

	id := DigestID(j.spec.Name, now)
	if j.deliverer.Seen(id) {
		j.skip(logger, SkipAlreadyPosted)
		return nil
	}

	items := j.source.Fetch(ctx, j.spec.Group)
	digest, ok := j.spec.Compose(now, items)
	if !ok {
		j.skip(logger, SkipNothingToPost)
		logger.Warn("digest has no content", "candidates", len(items))
		return nil
	}
	digest.ID = id

	sent := j.deliverer.Deliver(ctx, []domain.Item{digest}, 1)
	logger.Info("digest done", "candidates", len(items), "sent", sent)
	return nil
}

func (j *DigestJob) skip(logger *slog.Logger, reason string) {
	j.metrics.JobSkipped(j.spec.Name, reason)
	logger.Debug("digest skipped", "reason", reason)
}

// HeadlinesDigest lists up to limit unique headlines, newest first.
func HeadlinesDigest(title string, limit int) Composer {
	return func(now time.Time, items []domain.Item) (domain.Item, bool) {
		sorted := append([]domain.Item(nil), items...)
		newestFirst(sorted)

		seen := map[string]struct{}{}
		lines := make([]string, 0, limit)
		for _, item := range sorted {
			if len(lines) >= limit {
				break
			}
			headline := strings.TrimSpace(item.Title)
			key := strings.ToLower(headline)
			if headline == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			lines = append(lines, headline)
		}
		if len(lines) == 0 {
			return domain.Item{}, false
		}

		return domain.Item{
			Title:       title + " · " + now.Format(digestDateLayout),
			Body:        strings.Join(lines, "\n"),
			Category:    domain.CategoryMarket,
			PublishedAt: now,
		}, true
	}
}

// IPODigest lists up to limit IPO items as "title — summary".
func IPODigest(title string, limit int) Composer {
	return func(now time.Time, items []domain.Item) (domain.Item, bool) {
		lines := make([]string, 0, limit)
		for _, item := range items {
			if len(lines) >= limit {
				break
			}
			if item.Category != domain.CategoryIPO && item.Category != domain.CategoryNone {
				continue
			}
			line := strings.TrimSpace(item.Title)
			if line == "" {
				continue
			}
			if summary := format.Truncate(format.CleanLine(item.Body), ipoSummaryChars); summary != "" {
				line += " — " + summary
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			return domain.Item{}, false
		}

		return domain.Item{
			Title:       title + " · " + now.Format(digestDateLayout),
			Body:        strings.Join(lines, "\n"),
			Category:    domain.CategoryIPO,
			PublishedAt: now,
		}, true
	}
}

// FlowsDigest reposts the first flows item (one row per line).
func FlowsDigest(title string) Composer {
	return func(now time.Time, items []domain.Item) (domain.Item, bool) {
		for _, item := range items {
			if item.Category != domain.CategoryFlows || strings.TrimSpace(item.Body) == "" {
				continue
			}
			heading := title
			if t := strings.TrimSpace(item.Title); t != "" {
				heading = t
			}
			return domain.Item{
				Title:       heading,
				Body:        item.Body,
				Link:        item.Link,
				Category:    domain.CategoryFlows,
				PublishedAt: now,
			}, true
		}
		return domain.Item{}, false
	}
}
