package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// maskAutomation is injected into every new document so the lookup
// site's bot heuristics don't see the devtools automation flag.
const maskAutomation = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// Page is one open tab on a leased instance. Every interaction runs
// under a per-operation timeout derived from the pool configuration.
type Page struct {
	tabCtx      context.Context
	cancel      context.CancelFunc
	lease       *Lease
	loadTimeout time.Duration
	opTimeout   time.Duration
	logger      *zap.Logger
}

// OpenPage opens a fresh tab on the leased instance.
func OpenPage(lease *Lease, cfg Config, logger *zap.Logger) (*Page, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	tabCtx, cancel, err := lease.Instance().NewTab(context.Background())
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	err = chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(maskAutomation).Do(ctx)
		return err
	}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("prepare page: %w", err)
	}
	return &Page{
		tabCtx:      tabCtx,
		cancel:      cancel,
		lease:       lease,
		loadTimeout: cfg.PageLoadTimeout,
		opTimeout:   cfg.InteractionTimeout,
		logger:      logger,
	}, nil
}

// Lease returns the pool lease this page is bound to.
func (pg *Page) Lease() *Lease {
	return pg.lease
}

// Close closes the tab. The lease stays open.
func (pg *Page) Close() {
	pg.cancel()
}

// Navigate loads url and waits for the document body to be ready.
func (pg *Page) Navigate(ctx context.Context, url string) error {
	return pg.run(ctx, pg.loadTimeout, "navigate "+url,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery))
}

// Type clears the matched input and sends text to it.
func (pg *Page) Type(ctx context.Context, selector, text string) error {
	return pg.run(ctx, pg.opTimeout, "type into "+selector,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

// Click clicks the first element matching selector.
func (pg *Page) Click(ctx context.Context, selector string) error {
	return pg.run(ctx, pg.opTimeout, "click "+selector,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery))
}

// Submit sends the Enter key to the matched element.
func (pg *Page) Submit(ctx context.Context, selector string) error {
	return pg.run(ctx, pg.opTimeout, "submit "+selector,
		chromedp.SendKeys(selector, "\n", chromedp.ByQuery))
}

// WaitVisible blocks until selector matches a visible element.
func (pg *Page) WaitVisible(ctx context.Context, selector string) error {
	return pg.run(ctx, pg.opTimeout, "wait for "+selector,
		chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Text returns the trimmed text content of the first match.
func (pg *Page) Text(ctx context.Context, selector string) (string, error) {
	var out string
	err := pg.run(ctx, pg.opTimeout, "read text of "+selector,
		chromedp.Text(selector, &out, chromedp.ByQuery))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// OuterHTML returns the serialized HTML of the first match.
func (pg *Page) OuterHTML(ctx context.Context, selector string) (string, error) {
	var out string
	err := pg.run(ctx, pg.opTimeout, "read html of "+selector,
		chromedp.OuterHTML(selector, &out, chromedp.ByQuery))
	if err != nil {
		return "", err
	}
	return out, nil
}

// Run executes raw actions against the tab under the interaction
// timeout.
func (pg *Page) Run(ctx context.Context, actions ...chromedp.Action) error {
	return pg.run(ctx, pg.opTimeout, "run actions", actions...)
}

func (pg *Page) run(ctx context.Context, timeout time.Duration, op string, actions ...chromedp.Action) error {
	taskCtx, cancelTask := context.WithTimeout(pg.tabCtx, timeout)
	defer cancelTask()
	stop := forwardCancel(ctx, cancelTask)
	defer stop()

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
