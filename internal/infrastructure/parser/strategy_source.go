package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nandu-collab/marketpulse-bot/internal/classify"
	"github.com/nandu-collab/marketpulse-bot/internal/config"
	"github.com/nandu-collab/marketpulse-bot/internal/domain"
	"github.com/nandu-collab/marketpulse-bot/internal/format"
	"github.com/nandu-collab/marketpulse-bot/internal/metrics"
	"github.com/nandu-collab/marketpulse-bot/internal/ports"
	"github.com/nandu-collab/marketpulse-bot/internal/scanner"
)

// StrategySource implements ItemSource via registered scanner strategies.
type StrategySource struct {
	registry    *scanner.Registry
	sites       []config.SiteConfig
	classifier  *classify.Classifier
	summaryCap  int
	siteTimeout time.Duration
	metrics     metrics.Recorder
	logger      *slog.Logger
	now         func() time.Time
}

var _ ports.ItemSource = (*StrategySource)(nil)

// SourceOptions tunes normalization and bounds of a StrategySource.
type SourceOptions struct {
	Classifier  *classify.Classifier
	SummaryCap  int
	SiteTimeout time.Duration
	Metrics     metrics.Recorder
}

// NewStrategySource wires scanner registry with config-defined sites.
func NewStrategySource(reg *scanner.Registry, sites []config.SiteConfig, opts SourceOptions, log *slog.Logger) *StrategySource {
	if opts.Classifier == nil {
		opts.Classifier = classify.New(classify.DefaultRules())
	}
	if opts.SummaryCap <= 0 {
		opts.SummaryCap = format.DefaultSummaryCap
	}
	if log == nil {
		log = slog.Default()
	}
	return &StrategySource{
		registry:    reg,
		sites:       sites,
		classifier:  opts.Classifier,
		summaryCap:  opts.SummaryCap,
		siteTimeout: opts.SiteTimeout,
		metrics:     metrics.OrNop(opts.Metrics),
		logger:      log,
		now:         time.Now,
	}
}

// Fetch runs every site of group and returns the normalized items. It never
// fails: a broken site is logged, counted and contributes zero items.
func (s *StrategySource) Fetch(ctx context.Context, group string) []domain.Item {
	var aggregated []domain.Item
	for _, site := range s.sites {
		if site.Group != group {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		s.logger.Debug("process site", "site", site.Name, "scanner", site.Scanner, "endpoints", len(site.Endpoints))
		results, err := s.scanSite(ctx, site)
		if err != nil {
			s.metrics.SourceFailure(site.Name)
			s.logger.Warn("site scan failed", "site", site.Name, "scanner", site.Scanner, "partial", len(results), "error", err)
		}

		items := s.normalize(site, results)
		s.metrics.SourceItems(site.Name, len(items))
		s.logger.Debug("site produced items", "site", site.Name, "count", len(items))
		aggregated = append(aggregated, items...)
	}

	s.logger.Debug("strategy source done", "group", group, "total_items", len(aggregated))
	return aggregated
}

func (s *StrategySource) scanSite(ctx context.Context, site config.SiteConfig) (results []domain.Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			results, err = nil, fmt.Errorf("scanner panic: %v", r)
		}
	}()

	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}
	strategy, err := s.registry.Resolve(site.Scanner)
	if err != nil {
		return nil, err
	}

	if s.siteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.siteTimeout)
		defer cancel()
	}

	return strategy.Scan(ctx, scanner.Request{
		Now:       s.now(),
		SiteName:  site.Name,
		Endpoints: toEndpoints(site.Endpoints),
		Limit:     site.Limit,
		Options:   site.Options,
	})
}

// normalize strips markup, drops empty entries, derives the ledger id as
// "<site>|<canonical link or guid>", caps the body and assigns a category.
// Duplicate ids within one site collapse to the first occurrence.
func (s *StrategySource) normalize(site config.SiteConfig, results []domain.Item) []domain.Item {
	fixed := domain.Category(strings.ToLower(site.Options["category"]))
	fetchedAt := s.now()

	seen := make(map[string]struct{}, len(results))
	out := make([]domain.Item, 0, len(results))
	for _, item := range results {
		item.Title = format.CleanLine(item.Title)
		item.Body = format.Clean(item.Body)
		if item.Title == "" {
			continue
		}

		item.Link = CanonicalizeURL(item.Link)
		key := item.Link
		if key == "" {
			key = strings.TrimSpace(item.ID)
		}
		if key == "" {
			continue
		}
		item.ID = site.Name + "|" + key
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}

		item.Body = format.Truncate(item.Body, s.summaryCap)
		switch {
		case fixed != domain.CategoryNone:
			item.Category = fixed
		case item.Category == domain.CategoryNone:
			item.Category = s.classifier.Classify(item.Title, item.Body)
		}
		if item.Source == "" {
			item.Source = site.Name
		}
		item.FetchedAt = fetchedAt
		out = append(out, item)
	}
	return out
}

func toEndpoints(cfg []config.EndpointConfig) []scanner.Endpoint {
	endpoints := make([]scanner.Endpoint, 0, len(cfg))
	for _, ep := range cfg {
		endpoints = append(endpoints, scanner.Endpoint{
			Name: ep.Name,
			URL:  ep.URL,
		})
	}
	return endpoints
}
