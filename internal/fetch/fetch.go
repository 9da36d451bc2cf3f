package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/bkowalcz/pricewatch/internal/models"
	"github.com/bkowalcz/pricewatch/internal/util"
)

// Tier selects escalating fetch cost.
type Tier int

const (
	// TierDirect is a plain HTTP GET.
	TierDirect Tier = iota + 1
	// TierProxy routes through the managed rendering/anti-bot proxy.
	TierProxy
	// TierBrowser drives a full headless browser session for a rendered
	// DOM snapshot.
	TierBrowser
)

func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierProxy:
		return "proxy"
	case TierBrowser:
		return "browser"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Result is one fetched page: the parsed document plus status metadata.
type Result struct {
	Doc        *goquery.Document
	StatusCode int
	Tier       Tier
}

// Renderer produces a rendered DOM snapshot; the browser package provides
// the chromedp-backed implementation.
type Renderer interface {
	Snapshot(ctx context.Context, url string) (string, error)
}

// Fetcher implements the tiered content-fetch contract. The proxy tier is
// metered by a shared rate limiter and retried with bounded backoff when
// the proxy itself rate-limits us.
type Fetcher struct {
	client       *http.Client
	renderer     Renderer
	proxyBaseURL string
	proxyAPIKey  string
	proxyLimiter *rate.Limiter
	backoff      util.BackoffPolicy
	detector     BlockDetector
	userAgent    string
}

type Options struct {
	ProxyBaseURL    string
	ProxyAPIKey     string
	ProxyRatePerSec float64
	Backoff         util.BackoffPolicy
	UserAgent       string
	Renderer        Renderer
}

func New(opts Options) *Fetcher {
	perSec := opts.ProxyRatePerSec
	if perSec <= 0 {
		perSec = 1
	}
	return &Fetcher{
		client:       &http.Client{Timeout: 30 * time.Second},
		renderer:     opts.Renderer,
		proxyBaseURL: opts.ProxyBaseURL,
		proxyAPIKey:  opts.ProxyAPIKey,
		proxyLimiter: rate.NewLimiter(rate.Limit(perSec), 1),
		backoff:      opts.Backoff,
		detector:     BlockDetector{},
		userAgent:    opts.UserAgent,
	}
}

// Fetch retrieves the page at the requested tier. Blocked responses return
// models.ErrBlocked so the pipeline escalates rather than retrying the same
// tier.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, tier Tier) (*Result, error) {
	switch tier {
	case TierDirect:
		return f.fetchDirect(ctx, rawURL)
	case TierProxy:
		return f.fetchProxy(ctx, rawURL)
	case TierBrowser:
		return f.fetchBrowser(ctx, rawURL)
	default:
		return nil, fmt.Errorf("unknown fetch tier %d", tier)
	}
}

func (f *Fetcher) fetchDirect(ctx context.Context, rawURL string) (*Result, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL %q: %v", models.ErrFetchFailure, rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", models.ErrFetchFailure, parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFetchFailure, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	res, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFetchFailure, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: status %d from %s", models.ErrBlocked, res.StatusCode, rawURL)
	default:
		return nil, fmt.Errorf("%w: status %d from %s", models.ErrFetchFailure, res.StatusCode, rawURL)
	}

	return f.parse(res.Body, rawURL, res.StatusCode, TierDirect)
}

// fetchProxy routes through the managed rendering proxy, waiting on the
// shared limiter first and backing off when the proxy rate-limits us.
func (f *Fetcher) fetchProxy(ctx context.Context, rawURL string) (*Result, error) {
	if f.proxyBaseURL == "" {
		return nil, fmt.Errorf("%w: rendering proxy not configured", models.ErrFetchFailure)
	}

	proxyURL := fmt.Sprintf("%s?api_key=%s&render=true&url=%s",
		f.proxyBaseURL, url.QueryEscape(f.proxyAPIKey), url.QueryEscape(rawURL))

	var result *Result
	err := f.backoff.Retry(ctx, func(attempt int) error {
		if err := f.proxyLimiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		if attempt > 0 {
			slog.Info("Retrying rendering proxy", "url", rawURL, "attempt", attempt)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, proxyURL, nil)
		if err != nil {
			return util.Permanent(fmt.Errorf("%w: %v", models.ErrFetchFailure, err))
		}
		res, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: proxy request: %v", models.ErrFetchFailure, err)
		}
		defer res.Body.Close()

		switch {
		case res.StatusCode == http.StatusOK:
		case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
			// The proxy enforces its own request-rate limits; back off
			// and retry instead of failing the item outright.
			return fmt.Errorf("%w: proxy status %d", models.ErrFetchFailure, res.StatusCode)
		default:
			return util.Permanent(fmt.Errorf("%w: proxy status %d", models.ErrFetchFailure, res.StatusCode))
		}

		result, err = f.parse(res.Body, rawURL, res.StatusCode, TierProxy)
		if err != nil {
			return util.Permanent(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *Fetcher) fetchBrowser(ctx context.Context, rawURL string) (*Result, error) {
	if f.renderer == nil {
		return nil, fmt.Errorf("%w: browser renderer not configured", models.ErrFetchFailure)
	}
	html, err := f.renderer.Snapshot(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrRenderTimeout, err)
		}
		return nil, fmt.Errorf("%w: browser snapshot: %v", models.ErrFetchFailure, err)
	}
	return f.parse(strings.NewReader(html), rawURL, http.StatusOK, TierBrowser)
}

func (f *Fetcher) parse(body io.Reader, rawURL string, status int, tier Tier) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse HTML from %s: %v", models.ErrFetchFailure, rawURL, err)
	}

	title := doc.Find("title").First().Text()
	bodyText := doc.Find("body").Text()
	if blocked, marker := f.detector.Detect(title, bodyText); blocked {
		return nil, fmt.Errorf("%w: %s (%s tier)", models.ErrBlocked, util.TrimTo(marker, 80), tier)
	}

	return &Result{Doc: doc, StatusCode: status, Tier: tier}, nil
}
