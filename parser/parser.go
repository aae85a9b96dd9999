// Package parser turns plain-text market report bodies into per-product prices.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aluiziolira/go-poultry-prices/models"
)

// Catalog is a compiled, ordered product catalog. It is safe for concurrent use.
type Catalog struct {
	entries []entry
}

type entry struct {
	product  models.Product
	patterns []*regexp.Regexp
	exclude  []*regexp.Regexp
}

// Compile validates and compiles products, keeping their order.
func Compile(products []models.Product) (*Catalog, error) {
	c := &Catalog{entries: make([]entry, 0, len(products))}
	for _, p := range products {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("product with empty name")
		}
		if len(p.Patterns) == 0 {
			return nil, fmt.Errorf("product %q has no patterns", p.Name)
		}
		e := entry{product: p}
		for _, raw := range p.Patterns {
			re, err := regexp.Compile(raw)
			if err != nil {
				return nil, fmt.Errorf("product %q pattern %q: %w", p.Name, raw, err)
			}
			e.patterns = append(e.patterns, re)
		}
		for _, raw := range p.Exclude {
			re, err := regexp.Compile(raw)
			if err != nil {
				return nil, fmt.Errorf("product %q exclude %q: %w", p.Name, raw, err)
			}
			e.exclude = append(e.exclude, re)
		}
		c.entries = append(c.entries, e)
	}
	return c, nil
}

// Names returns canonical product names in catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.product.Name
	}
	return out
}

// Labels returns display labels keyed by product name. Products without a
// label are omitted.
func (c *Catalog) Labels() map[string]string {
	out := make(map[string]string, len(c.entries))
	for _, e := range c.entries {
		if e.product.Label != "" {
			out[e.product.Name] = e.product.Label
		}
	}
	return out
}

// Parse extracts one price per product from text. For each product the first
// matching line is the only one considered; a matching line without numbers
// leaves the product out of the map.
func (c *Catalog) Parse(text string) models.PriceMap {
	lines := SplitLines(text)
	out := make(models.PriceMap)
	for _, e := range c.entries {
		for _, line := range lines {
			if !e.matches(line) {
				continue
			}
			if price, ok := ExtractPrice(line); ok {
				out[e.product.Name] = price
			}
			break
		}
	}
	return out
}

func (e *entry) matches(line string) bool {
	hit := false
	for _, re := range e.patterns {
		if re.MatchString(line) {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}
	for _, re := range e.exclude {
		if re.MatchString(line) {
			return false
		}
	}
	return true
}

// SplitLines returns the non-empty, trimmed, upper-cased lines of text.
func SplitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, ln := range raw {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		lines = append(lines, strings.ToUpper(ln))
	}
	return lines
}
