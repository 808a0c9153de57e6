package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"

	"github.com/nandu-collab/marketpulse-bot/internal/domain"
	"github.com/nandu-collab/marketpulse-bot/internal/scanner"
)

const missingValue = "-"

var (
	dateKeys    = []string{"date", "Date", "date_"}
	fiiBuyKeys  = []string{"buyValue", "FII_Buy", "FII_Buy_Value"}
	fiiSellKeys = []string{"sellValue", "FII_Sell", "FII_Sell_Value"}
	fiiNetKeys  = []string{"netValue", "FII_Net", "FII_Net_Value"}
	diiBuyKeys  = []string{"diiBuyValue", "DII_Buy"}
	diiSellKeys = []string{"diiSellValue", "DII_Sell"}
	diiNetKeys  = []string{"diiNetValue", "DII_Net"}
)

var errNoRows = errors.New("no rows in response")

// NSEFlowsScanner reads FII/DII cash market activity from the NSE JSON API.
// The API rejects cookie-less requests, so each scan warms a fresh session
// on the site root before trying the endpoints in order.
type NSEFlowsScanner struct {
	client    *http.Client
	userAgent string
}

// NewNSEFlowsScanner wires an HTTP client used as the template for each
// session; a nil client gets a 10s timeout.
func NewNSEFlowsScanner(client *http.Client, userAgent string) *NSEFlowsScanner {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &NSEFlowsScanner{client: client, userAgent: userAgent}
}

// Name identifies the strategy inside the registry.
func (n *NSEFlowsScanner) Name() string {
	return "nse-flows"
}

// Scan returns a single item for the latest trading date. The first endpoint
// that answers with at least one row wins.
func (n *NSEFlowsScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Item, error) {
	if len(req.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints configured for site %s", req.SiteName)
	}

	session, err := n.session()
	if err != nil {
		return nil, err
	}

	referer := req.Option("referer", "")
	if warmup := req.Option("warmup", ""); warmup != "" {
		// Failure only means the API call below will likely be refused.
		_ = n.get(ctx, session, warmup, referer, nil)
	}

	var errs []error
	for _, ep := range req.Endpoints {
		var raw json.RawMessage
		if err := n.get(ctx, session, ep.URL, referer, &raw); err != nil {
			errs = append(errs, fmt.Errorf("endpoint %s: %w", ep.Name, err))
			continue
		}
		rows, err := decodeRows(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("endpoint %s: %w", ep.Name, err))
			continue
		}
		flows := summarizeFlows(rows)
		if flows.Date == missingValue {
			flows.Date = req.Now.Format("02-Jan-2006")
		}
		return []domain.Item{{
			ID:          flows.Date,
			Title:       "FII/DII flows " + flows.Date,
			Body:        flows.Lines(),
			Category:    domain.CategoryFlows,
			Source:      fmt.Sprintf("%s/%s", req.SiteName, ep.Name),
			PublishedAt: req.Now,
		}}, nil
	}

	return nil, errors.Join(errs...)
}

func (n *NSEFlowsScanner) session() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &http.Client{
		Transport: n.client.Transport,
		Timeout:   n.client.Timeout,
		Jar:       jar,
	}, nil
}

func (n *NSEFlowsScanner) get(ctx context.Context, client *http.Client, target, referer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("nse returned %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeRows accepts either a bare array or an object with a "data" array.
func decodeRows(raw json.RawMessage) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		var wrapped struct {
			Data []map[string]any `json:"data"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("unexpected payload: %w", err)
		}
		rows = wrapped.Data
	}
	if len(rows) == 0 {
		return nil, errNoRows
	}
	return rows, nil
}

// Flows is one day of institutional cash market activity, in crore rupees.
type Flows struct {
	Date                    string
	FIIBuy, FIISell, FIINet string
	DIIBuy, DIISell, DIINet string
}

// Lines renders flows as newline separated rows for the digest formatter.
func (f Flows) Lines() string {
	return strings.Join([]string{
		"Date: " + f.Date,
		"FII Buy: " + f.FIIBuy,
		"FII Sell: " + f.FIISell,
		"FII Net: " + f.FIINet,
		"DII Buy: " + f.DIIBuy,
		"DII Sell: " + f.DIISell,
		"DII Net: " + f.DIINet,
	}, "\n")
}

// summarizeFlows handles both payload shapes NSE serves: one row per
// investor category ("FII/FPI", "DII"), or a single wide row.
func summarizeFlows(rows []map[string]any) Flows {
	var fii, dii map[string]any
	for _, row := range rows {
		category := strings.ToUpper(pick(row, []string{"category"}))
		switch {
		case strings.HasPrefix(category, "FII") || strings.HasPrefix(category, "FPI"):
			if fii == nil {
				fii = row
			}
		case strings.HasPrefix(category, "DII"):
			if dii == nil {
				dii = row
			}
		}
	}

	if fii != nil || dii != nil {
		flows := Flows{Date: missingValue}
		if fii != nil {
			flows.Date = pick(fii, dateKeys)
			flows.FIIBuy = pick(fii, fiiBuyKeys)
			flows.FIISell = pick(fii, fiiSellKeys)
			flows.FIINet = pick(fii, fiiNetKeys)
		} else {
			flows.FIIBuy, flows.FIISell, flows.FIINet = missingValue, missingValue, missingValue
		}
		if dii != nil {
			if flows.Date == missingValue {
				flows.Date = pick(dii, dateKeys)
			}
			flows.DIIBuy = pick(dii, fiiBuyKeys)
			flows.DIISell = pick(dii, fiiSellKeys)
			flows.DIINet = pick(dii, fiiNetKeys)
		} else {
			flows.DIIBuy, flows.DIISell, flows.DIINet = missingValue, missingValue, missingValue
		}
		return flows
	}

	latest := rows[0]
	return Flows{
		Date:    pick(latest, dateKeys),
		FIIBuy:  pick(latest, fiiBuyKeys),
		FIISell: pick(latest, fiiSellKeys),
		FIINet:  pick(latest, fiiNetKeys),
		DIIBuy:  pick(latest, diiBuyKeys),
		DIISell: pick(latest, diiSellKeys),
		DIINet:  pick(latest, diiNetKeys),
	}
}

// pick returns the first non-empty value among keys, or "-".
func pick(row map[string]any, keys []string) string {
	for _, key := range keys {
		v, ok := row[key]
		if !ok || v == nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = strings.TrimSpace(val)
		case float64:
			s = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			s = fmt.Sprint(val)
		}
		if s != "" {
			return s
		}
	}
	return missingValue
}
