// Package classify assigns coarse categories to items by keyword matching.
package classify

import (
	"strings"

	"github.com/nandu-collab/marketpulse-bot/internal/domain"
)

// Rule maps a category to the keywords that select it.
type Rule struct {
	Category domain.Category `yaml:"category"`
	Keywords []string        `yaml:"keywords"`
}

// DefaultRules is used when configuration provides none. Earlier rules win.
func DefaultRules() []Rule {
	return []Rule{
		{Category: domain.CategoryIPO, Keywords: []string{"ipo", "listing", "subscription", "gmp", "grey market", "anchor investors"}},
		{Category: domain.CategoryFlows, Keywords: []string{"fii", "dii", "fpi", "foreign institutional", "domestic institutional"}},
		{Category: domain.CategoryMarket, Keywords: []string{"sensex", "nifty", "market", "stocks", "shares", "rupee", "bank nifty"}},
	}
}

// Classifier is a pure function from (title, body) to a category.
type Classifier struct {
	rules []Rule
}

// New lower-cases keywords once; nil rules fall back to DefaultRules.
func New(rules []Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	normalized := make([]Rule, 0, len(rules))
	for _, r := range rules {
		kw := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k != "" {
				kw = append(kw, k)
			}
		}
		normalized = append(normalized, Rule{Category: r.Category, Keywords: kw})
	}
	return &Classifier{rules: normalized}
}

// Classify returns the first rule whose keyword appears as a whole word in
// title or body.
func (c *Classifier) Classify(title, body string) domain.Category {
	text := " " + normalize(title+" "+body) + " "
	for _, r := range c.rules {
		for _, k := range r.Keywords {
			if strings.Contains(text, " "+k+" ") {
				return r.Category
			}
		}
	}
	return domain.CategoryNone
}

// normalize lower-cases and turns every non-alphanumeric rune into a space so
// keywords match on word boundaries.
func normalize(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}), " ")
}
