package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nandu-collab/marketpulse-bot/internal/domain"
	"github.com/nandu-collab/marketpulse-bot/internal/logging"
	"github.com/nandu-collab/marketpulse-bot/internal/metrics"
	"github.com/nandu-collab/marketpulse-bot/internal/ports"
)

// Renderer turns an item into message text and an optional action link.
type Renderer interface {
	Format(item domain.Item) (text string, link string)
}

// DelivererDeps wires the driven adapters a Deliverer needs.
type DelivererDeps struct {
	Ledger   ports.Ledger
	Notifier ports.Notifier
	Renderer Renderer
	Metrics  metrics.Recorder
	Logger   *slog.Logger
}

// Deliverer posts items that the ledger has not seen yet. Only a confirmed
// send advances the ledger.
type Deliverer struct {
	ledger   ports.Ledger
	notifier ports.Notifier
	renderer Renderer
	metrics  metrics.Recorder
	logger   *slog.Logger
}

// NewDeliverer constructs the delivery step.
func NewDeliverer(deps DelivererDeps) *Deliverer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		renderer: deps.Renderer,
		metrics:  metrics.OrNop(deps.Metrics),
		logger:   logger,
	}
}

// Seen reports whether id was already delivered.
func (d *Deliverer) Seen(id string) bool {
	return d.ledger.Contains(id)
}

// Deliver sends items in order until limit sends succeeded (limit <= 0 means
// no limit) and returns the number sent. Each item is claimed in the ledger
// before sending so a concurrent job cannot post it twice; a failed send
// releases the claim and the loop moves on to the next item.
func (d *Deliverer) Deliver(ctx context.Context, items []domain.Item, limit int) int {
	logger := logging.FromContext(ctx, d.logger)

	sent := 0
	for i, item := range items {
		if limit > 0 && sent >= limit {
			break
		}
		if ctx.Err() != nil {
			logger.Warn("delivery interrupted", "unprocessed", len(items)-i, "error", ctx.Err())
			break
		}
		if item.ID == "" || item.Empty() {
			continue
		}
		if !d.ledger.Reserve(item.ID) {
			d.metrics.Delivery(metrics.DeliveryDuplicate)
			continue
		}

		text, link := d.renderer.Format(item)
		if err := d.notifier.Send(ctx, text, link); err != nil {
			d.ledger.Release(item.ID)
			d.reportFailure(logger, item, err)
			continue
		}

		d.ledger.Record(ctx, item.ID)
		d.metrics.Delivery(metrics.DeliverySent)
		d.metrics.LedgerSize(d.ledger.Len())
		logger.Info("item delivered", "id", item.ID, "category", string(item.Category))
		sent++
	}
	return sent
}

func (d *Deliverer) reportFailure(logger *slog.Logger, item domain.Item, err error) {
	if errors.Is(err, ports.ErrRateLimited) {
		d.metrics.Delivery(metrics.DeliveryTransient)
		logger.Warn("delivery rate limited, dropping item for this tick", "id", item.ID, "error", err)
		return
	}
	d.metrics.Delivery(metrics.DeliveryPermanent)
	logger.Error("delivery failed", "id", item.ID, "error", err)
}
