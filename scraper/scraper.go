package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-poultry-prices/config"
	"github.com/aluiziolira/go-poultry-prices/models"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

const htmlMarker = "<html"

// Fetcher retrieves report bodies one source at a time. Each call makes a
// single bounded request; there are no retries against the same URL.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	limiter   *rate.Limiter
	Metrics   *Metrics
	logger    *slog.Logger
}

// NewFetcher builds a fetcher configured from cfg. metrics may be nil.
func NewFetcher(cfg *config.Config, metrics *Metrics, logger *slog.Logger) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user agent cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.Timeout,
	})

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Fetcher{
		cfg:       cfg,
		collector: collector,
		limiter:   rate.NewLimiter(limit, 1),
		Metrics:   metrics,
		logger:    logger,
	}, nil
}

// WithTransport replaces the HTTP transport used for every fetch.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// Fetch retrieves the text of one source. Non-200 responses, transport
// failures and HTML documents from non-proxy sources are returned as typed
// errors; the caller moves on to the next source.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (*models.RawReport, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		classified := classifyError(err, 0)
		if ctx.Err() == nil {
			// The limiter refuses waits that would outlast the deadline.
			classified = ErrTimeout{Err: err}
		}
		f.Metrics.IncError(errorTypeLabel(classified))
		return nil, classified
	}

	// A clone shares the transport and timeout but gets its own callbacks,
	// so concurrent fetches do not see each other's responses.
	c := f.collector.Clone()

	var (
		body   []byte
		status int
		start  time.Time
	)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", f.cfg.Accept)
		start = time.Now()
		f.Metrics.IncRequest(src.Kind())
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	err := c.Visit(src.URL)
	if !start.IsZero() {
		f.Metrics.ObserveDuration(time.Since(start))
	}
	if err == nil && status != http.StatusOK {
		err = fmt.Errorf("http status %d", status)
	}
	if err != nil {
		classified := classifyError(err, status)
		f.Metrics.IncError(errorTypeLabel(classified))
		return nil, classified
	}

	text := string(body)
	if looksLikeHTML(body) {
		if !src.TextProxy {
			classified := ErrHTMLPayload{URL: src.URL}
			f.Metrics.IncError(errorTypeLabel(classified))
			return nil, classified
		}
		flattened, err := htmlToText(body)
		if err != nil {
			f.Metrics.IncError("other")
			return nil, fmt.Errorf("flatten proxy html: %w", err)
		}
		text = flattened
	}

	f.logger.Debug("report fetched",
		slog.String("url", src.URL),
		slog.Int("bytes", len(body)),
	)
	return &models.RawReport{Source: src.URL, Text: text}, nil
}

func looksLikeHTML(body []byte) bool {
	return bytes.Contains(bytes.ToLower(body), []byte(htmlMarker))
}

// htmlToText keeps the visible text of an HTML page, one block per line.
func htmlToText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, head").Remove()

	var lines []string
	doc.Find("pre, p, tr, li, h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("pre, p, tr, li").Length() > 0 {
			return
		}
		for _, ln := range strings.Split(s.Text(), "\n") {
			if ln = strings.TrimSpace(ln); ln != "" {
				lines = append(lines, ln)
			}
		}
	})
	if len(lines) == 0 {
		return doc.Text(), nil
	}
	return strings.Join(lines, "\n"), nil
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return ErrCanceled{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case http.StatusOK:
		default:
			return ErrBadStatus{StatusCode: statusCode, Err: wrapped}
		}
	}

	return err
}
