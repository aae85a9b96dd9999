package scraper

import "strings"

// Source is one candidate location of a report. TextProxy marks a source that
// renders a remote page as text, so an HTML marker in its body is expected.
type Source struct {
	URL       string
	TextProxy bool
}

// Kind is the metrics label for the source.
func (s Source) Kind() string {
	if s.TextProxy {
		return "proxy"
	}
	return "direct"
}

// BuildSources expands base report URLs into the ordered Source List: each
// base is followed by its proxied variant when proxyPrefix is set. Repeated
// URLs are kept only at their first position.
func BuildSources(bases []string, proxyPrefix string) []Source {
	out := make([]Source, 0, len(bases)*2)
	seen := make(map[string]struct{}, len(bases)*2)
	add := func(s Source) {
		if _, ok := seen[s.URL]; ok {
			return
		}
		seen[s.URL] = struct{}{}
		out = append(out, s)
	}

	for _, base := range bases {
		base = strings.TrimSpace(base)
		if base == "" {
			continue
		}
		add(Source{URL: base})
		if proxyPrefix != "" {
			add(Source{URL: ProxyURL(proxyPrefix, base), TextProxy: true})
		}
	}
	return out
}

// ProxyURL rewrites raw for a read-only text proxy such as
// https://r.jina.ai/http://host/path.
func ProxyURL(prefix, raw string) string {
	clean := strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	return prefix + clean
}
