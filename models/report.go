// Package models defines data structures for the price feed.
package models

import (
	"sort"
	"time"
)

// Product is one catalog entry: a canonical name and the patterns that
// identify its line in report text. A line matches when any pattern matches
// and no exclude pattern does.
type Product struct {
	Name     string   `mapstructure:"name" json:"name"`
	Label    string   `mapstructure:"label" json:"label,omitempty"`
	Patterns []string `mapstructure:"patterns" json:"patterns"`
	Exclude  []string `mapstructure:"exclude" json:"exclude,omitempty"`
}

// RawReport is the text body of one fetched report.
type RawReport struct {
	Source string
	Text   string
}

// PriceMap maps canonical product names to prices.
type PriceMap map[string]float64

// Clone returns an independent copy of m. A nil map clones to an empty one.
func (m PriceMap) Clone() PriceMap {
	out := make(PriceMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FetchStatus reports how fresh a cycle's prices are.
type FetchStatus string

const (
	StatusLive     FetchStatus = "live"
	StatusSnapshot FetchStatus = "snapshot"
	StatusNone     FetchStatus = "none"
)

// PricePoint is a price and its change against the previous snapshot.
type PricePoint struct {
	Price float64 `json:"price"`
	Delta float64 `json:"delta"`
}

// Quote is a PricePoint with its product identity, used for row output.
type Quote struct {
	Product string
	Label   string
	PricePoint
}

// CycleResult is the outcome of one fetch/parse/snapshot cycle.
type CycleResult struct {
	Status      FetchStatus           `json:"status"`
	Prices      map[string]PricePoint `json:"prices"`
	Order       []string              `json:"-"`
	Labels      map[string]string     `json:"-"`
	Source      string                `json:"source,omitempty"`
	CompletedAt time.Time             `json:"completed_at"`
}

// Quotes returns the result rows in Order. Products missing from Order are
// appended in name order.
func (r *CycleResult) Quotes() []Quote {
	if r == nil {
		return nil
	}
	out := make([]Quote, 0, len(r.Prices))
	seen := make(map[string]struct{}, len(r.Prices))
	for _, name := range r.Order {
		point, ok := r.Prices[name]
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, Quote{Product: name, Label: r.Labels[name], PricePoint: point})
	}

	var rest []string
	for name := range r.Prices {
		if _, ok := seen[name]; !ok {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		out = append(out, Quote{Product: name, Label: r.Labels[name], PricePoint: r.Prices[name]})
	}
	return out
}
