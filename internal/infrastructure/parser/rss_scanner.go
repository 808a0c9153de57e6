package parser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/nandu-collab/marketpulse-bot/internal/domain"
	"github.com/nandu-collab/marketpulse-bot/internal/scanner"
)

const defaultFeedLimit = 15

// RSSScanner reads RSS and Atom feeds listed as site endpoints.
type RSSScanner struct {
	client    *http.Client
	userAgent string
}

// NewRSSScanner wires an HTTP client; a nil client gets a 10s timeout.
func NewRSSScanner(client *http.Client, userAgent string) *RSSScanner {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RSSScanner{client: client, userAgent: userAgent}
}

// Name identifies the strategy inside the registry.
func (s *RSSScanner) Name() string {
	return "rss"
}

// Scan parses every endpoint and keeps up to req.Limit entries per feed. A
// failing feed does not stop its siblings: the joined error is returned with
// whatever the other feeds produced.
func (s *RSSScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Item, error) {
	if len(req.Endpoints) == 0 {
		return nil, fmt.Errorf("no feeds configured for site %s", req.SiteName)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultFeedLimit
	}

	var maxAge time.Duration
	if days, err := strconv.Atoi(req.Option("max_age_days", "0")); err == nil && days > 0 {
		maxAge = time.Duration(days) * 24 * time.Hour
	}

	var (
		items []domain.Item
		errs  []error
	)
	for _, ep := range req.Endpoints {
		feed, err := s.parse(ctx, ep.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", ep.Name, err))
			continue
		}
		items = append(items, convertEntries(feed.Items, req, ep, limit, maxAge)...)
	}

	return items, errors.Join(errs...)
}

func (s *RSSScanner) parse(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	fp := gofeed.NewParser()
	fp.Client = s.client
	if s.userAgent != "" {
		fp.UserAgent = s.userAgent
	}
	feed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

func convertEntries(entries []*gofeed.Item, req scanner.Request, ep scanner.Endpoint, limit int, maxAge time.Duration) []domain.Item {
	items := make([]domain.Item, 0, min(limit, len(entries)))
	for _, entry := range entries {
		if len(items) >= limit {
			break
		}
		if entry == nil {
			continue
		}

		var published time.Time
		switch {
		case entry.PublishedParsed != nil:
			published = entry.PublishedParsed.UTC()
		case entry.UpdatedParsed != nil:
			published = entry.UpdatedParsed.UTC()
		}
		if maxAge > 0 && !published.IsZero() && !req.Now.IsZero() && req.Now.Sub(published) > maxAge {
			continue
		}

		link := strings.TrimSpace(entry.Link)
		guid := strings.TrimSpace(entry.GUID)
		if link == "" && (strings.HasPrefix(guid, "http://") || strings.HasPrefix(guid, "https://")) {
			link = guid
		}

		body := entry.Description
		if strings.TrimSpace(body) == "" {
			body = entry.Content
		}

		items = append(items, domain.Item{
			ID:          guid,
			Title:       entry.Title,
			Body:        body,
			Link:        link,
			Source:      req.SiteName + "/" + ep.Name,
			PublishedAt: published,
		})
	}
	return items
}
