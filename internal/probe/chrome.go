package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeProber renders the page in a long-lived headless browser before
// snapshotting, so script-rendered sites produce a usable excerpt.
// Construct once, call Probe per URL, Close on shutdown.
type ChromeProber struct {
	allocCtx  context.Context
	cancelAll context.CancelFunc
	brCtx     context.Context
	cancelBr  context.CancelFunc

	UserAgent string
	Timeout   time.Duration
	MaxChars  int
}

// NewChromeProber starts a reusable headless browser.
func NewChromeProber(timeout time.Duration) (*ChromeProber, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(defaultUserAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	bctx, cancelBr := chromedp.NewContext(actx)

	// Spin the browser up now so a missing Chrome binary fails construction
	// instead of the first probe.
	startCtx, cancel := context.WithTimeout(bctx, timeout)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		cancelBr()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start headless browser: %w", err)
	}

	return &ChromeProber{
		allocCtx:  actx,
		cancelAll: cancelAlloc,
		brCtx:     bctx,
		cancelBr:  cancelBr,
		UserAgent: defaultUserAgent,
		Timeout:   timeout,
		MaxChars:  defaultMaxChars,
	}, nil
}

// Close tears down browser resources.
func (p *ChromeProber) Close() {
	if p.cancelBr != nil {
		p.cancelBr()
	}
	if p.cancelAll != nil {
		p.cancelAll()
	}
}

func (p *ChromeProber) Probe(ctx context.Context, siteURL string) (Snapshot, error) {
	timeout := p.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	runCtx, cancel := context.WithTimeout(p.brCtx, timeout)
	defer cancel()

	t0 := time.Now()
	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(siteURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return Snapshot{URL: siteURL, Status: 0}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	// chromedp does not surface the HTTP status; a rendered body counts
	// as reachable.
	return buildSnapshot(siteURL, 200, html, p.MaxChars, t0), nil
}
