package parser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/nandu-collab/marketpulse-bot/internal/domain"
	"github.com/nandu-collab/marketpulse-bot/internal/scanner"
)

// Default selectors fit a plain calendar table: first cell holds the linked
// name, the remaining cells the details.
const (
	defaultRowSelector   = "table tbody tr"
	defaultTitleSelector = "td:first-child"
	defaultLinkSelector  = "a[href]"
	defaultBodySelector  = "td:not(:first-child)"
)

// HTMLScanner scrapes table or list pages with CSS selectors taken from
// site options (row, title, link, body).
type HTMLScanner struct {
	client    *http.Client
	userAgent string
}

// NewHTMLScanner wires an HTTP client; a nil client gets a 10s timeout.
func NewHTMLScanner(client *http.Client, userAgent string) *HTMLScanner {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTMLScanner{client: client, userAgent: userAgent}
}

// Name identifies the strategy inside the registry.
func (h *HTMLScanner) Name() string {
	return "html"
}

// Scan fetches each endpoint and extracts one item per matching row.
func (h *HTMLScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Item, error) {
	if len(req.Endpoints) == 0 {
		return nil, fmt.Errorf("no pages configured for site %s", req.SiteName)
	}

	sel := selectors{
		row:   req.Option("row", defaultRowSelector),
		title: req.Option("title", defaultTitleSelector),
		link:  req.Option("link", defaultLinkSelector),
		body:  req.Option("body", defaultBodySelector),
	}

	var (
		results []domain.Item
		errs    []error
	)
	for _, ep := range req.Endpoints {
		doc, err := h.fetchDocument(ctx, ep.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("page %s: %w", ep.Name, err))
			continue
		}
		results = append(results, extractRows(doc, sel, ep, req.SiteName, req.Limit)...)
	}

	return results, errors.Join(errs...)
}

func (h *HTMLScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

type selectors struct {
	row, title, link, body string
}

func extractRows(doc *goquery.Document, sel selectors, ep scanner.Endpoint, siteName string, limit int) []domain.Item {
	var collected []domain.Item

	doc.Find(sel.row).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if limit > 0 && len(collected) >= limit {
			return false
		}
		if item, ok := parseRow(row, sel, ep, siteName); ok {
			collected = append(collected, item)
		}
		return true
	})

	return collected
}

func parseRow(row *goquery.Selection, sel selectors, ep scanner.Endpoint, siteName string) (domain.Item, bool) {
	title := strings.TrimSpace(row.Find(sel.title).First().Text())
	if title == "" {
		return domain.Item{}, false
	}

	var link string
	if href, ok := row.Find(sel.link).First().Attr("href"); ok {
		link = resolveLink(ep.URL, href)
	}

	parts := make([]string, 0, 4)
	row.Find(sel.body).Each(func(_ int, cell *goquery.Selection) {
		if text := strings.TrimSpace(cell.Text()); text != "" {
			parts = append(parts, text)
		}
	})

	id := link
	if id == "" {
		id = title
	}

	return domain.Item{
		ID:     id,
		Title:  title,
		Body:   strings.Join(parts, " | "),
		Link:   link,
		Source: fmt.Sprintf("%s/%s", siteName, ep.Name),
	}, true
}
