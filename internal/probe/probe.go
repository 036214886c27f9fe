// Package probe implements the Sense phase: it fetches the target page and
// produces the snapshot the code-generation prompts are grounded on.
package probe

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// Snapshot is one observation of the target site.
type Snapshot struct {
	URL          string   `json:"url"`
	Status       int      `json:"status"`
	Title        string   `json:"title"`
	Text         string   `json:"text"`
	HTMLHash     string   `json:"html_hash"`
	AntiBotLevel string   `json:"anti_bot_level"`
	Features     []string `json:"features,omitempty"`
	RenderMS     int      `json:"render_ms"`
}

// Prober fetches a site snapshot. Implementations must respect ctx.
type Prober interface {
	Probe(ctx context.Context, siteURL string) (Snapshot, error)
}

// ErrUnreachable reports that the site could not be fetched at all.
var ErrUnreachable = errors.New("site unreachable")

const defaultMaxChars = 12000

// HTTPProber fetches with a plain HTTP GET. It misses script-rendered
// content but needs no browser; it is the fallback when Chrome is absent.
type HTTPProber struct {
	Client    *http.Client
	UserAgent string
	MaxChars  int
}

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProber{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: defaultUserAgent,
		MaxChars:  defaultMaxChars,
	}
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

func (p *HTTPProber) Probe(ctx context.Context, siteURL string) (Snapshot, error) {
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, siteURL, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("invalid probe url: %w", err)
	}
	req.Header.Set("User-Agent", p.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := p.Client.Do(req)
	if err != nil {
		return Snapshot{URL: siteURL, Status: 0}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return Snapshot{URL: siteURL, Status: resp.StatusCode}, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}

	return buildSnapshot(siteURL, resp.StatusCode, string(body), p.MaxChars, t0), nil
}

// buildSnapshot derives the snapshot fields from raw HTML. Shared by both
// probers so they report identical shapes.
func buildSnapshot(siteURL string, status int, html string, maxChars int, t0 time.Time) Snapshot {
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}

	snap := Snapshot{
		URL:      siteURL,
		Status:   status,
		RenderMS: int(time.Since(t0) / time.Millisecond),
	}

	sum := sha1.Sum([]byte(html))
	snap.HTMLHash = hex.EncodeToString(sum[:])
	snap.AntiBotLevel, snap.Features = DetectAntiBot(html, status)

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(siteURL))
	if err != nil {
		return snap
	}
	snap.Title = strings.TrimSpace(article.Title)
	text := strings.TrimSpace(article.TextContent)
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	snap.Text = text
	return snap
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
