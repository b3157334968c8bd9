package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChromeLauncher starts headless Chrome processes via chromedp.
type ChromeLauncher struct {
	cfg    Config
	logger *zap.Logger
}

// NewChromeLauncher creates a launcher using the provided configuration.
func NewChromeLauncher(cfg Config, logger *zap.Logger) *ChromeLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeLauncher{cfg: cfg.withDefaults(), logger: logger}
}

// Launch starts one Chrome process and verifies it came up.
func (l *ChromeLauncher) Launch(ctx context.Context) (Instance, error) {
	opts := chromedp.DefaultExecAllocatorOptions[:]
	if l.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts, chromedp.Flag("disable-gpu", true))
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}
	if l.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chrome warmup: %w", err)
	}
	if err := ctx.Err(); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	inst := &ChromeInstance{
		id:            "chrome-" + uuid.NewString()[:8],
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        l.logger,
	}
	l.logger.Debug("chrome instance launched", zap.String("instance", inst.id))
	return inst, nil
}

// ChromeInstance is a single Chrome process plus its devtools session.
type ChromeInstance struct {
	id            string
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
}

func (i *ChromeInstance) ID() string {
	return i.id
}

// NewTab opens a tab in this instance. The tab context carries the
// devtools session; cancel closes the tab.
func (i *ChromeInstance) NewTab(parent context.Context) (context.Context, context.CancelFunc, error) {
	if err := i.browserCtx.Err(); err != nil {
		return nil, nil, fmt.Errorf("browser %s gone: %w", i.id, err)
	}
	tabCtx, tabCancel := chromedp.NewContext(i.browserCtx)
	stop := forwardCancel(parent, tabCancel)
	cancel := func() {
		stop()
		tabCancel()
	}
	return tabCtx, cancel, nil
}

func (i *ChromeInstance) Alive() bool {
	return i.browserCtx.Err() == nil
}

// PageCount queries devtools for reachable page targets.
func (i *ChromeInstance) PageCount(ctx context.Context) (int, error) {
	if err := i.browserCtx.Err(); err != nil {
		return 0, fmt.Errorf("browser %s gone: %w", i.id, err)
	}
	probeCtx := i.browserCtx
	var cancel context.CancelFunc
	if deadline, ok := ctx.Deadline(); ok {
		probeCtx, cancel = context.WithDeadline(i.browserCtx, deadline)
	} else {
		probeCtx, cancel = context.WithTimeout(i.browserCtx, 5*time.Second)
	}
	defer cancel()

	targets, err := chromedp.Targets(probeCtx)
	if err != nil {
		return 0, fmt.Errorf("list targets: %w", err)
	}
	pages := 0
	for _, t := range targets {
		if t.Type == "page" {
			pages++
		}
	}
	return pages, nil
}

func (i *ChromeInstance) Close(_ context.Context) error {
	i.browserCancel()
	i.allocCancel()
	return nil
}

// Kill tears the process down through the allocator, which terminates
// the Chrome process group.
func (i *ChromeInstance) Kill() {
	i.browserCancel()
	i.allocCancel()
}

// forwardCancel propagates parent cancellation to cancel until the
// returned stop func is called.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
