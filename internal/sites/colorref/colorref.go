// Package colorref adapts the public color reference site to the
// sites.Adapter interface.
package colorref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/recovery"
	"github.com/swatchlab/swatchsync/internal/sites"
)

// Config carries the site's URL and selectors. All of them come from
// the application configuration so a site redesign never requires a
// code change.
type Config struct {
	LookupURL            string
	SearchInputSelector  string
	SearchSubmitSelector string
	ResultSelector       string
	ValueSelector        string
	MinPageBytes         int
	BlockKeywords        []string

	// Limiter, when set, gates every navigation to the lookup URL.
	Limiter NavigationLimiter
}

// NavigationLimiter throttles navigations per target host.
// *ratelimit.Limiter satisfies it; nil means no throttling.
type NavigationLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Adapter drives the color reference site.
type Adapter struct {
	cfg      Config
	keywords [][]byte
	logger   *zap.Logger
}

// New validates cfg and builds the adapter.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case cfg.LookupURL == "":
		return nil, recovery.WithKind(errors.New("colorref: lookup url is required"), recovery.KindConfig)
	case cfg.SearchInputSelector == "":
		return nil, recovery.WithKind(errors.New("colorref: search input selector is required"), recovery.KindConfig)
	case cfg.ResultSelector == "":
		return nil, recovery.WithKind(errors.New("colorref: result selector is required"), recovery.KindConfig)
	case cfg.ValueSelector == "":
		return nil, recovery.WithKind(errors.New("colorref: value selector is required"), recovery.KindConfig)
	}

	keywords := make([][]byte, 0, len(cfg.BlockKeywords))
	for _, kw := range cfg.BlockKeywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		keywords = append(keywords, bytes.ToLower([]byte(kw)))
	}
	return &Adapter{cfg: cfg, keywords: keywords, logger: logger}, nil
}

// Navigate opens the lookup page and scans it for block signals.
func (a *Adapter) Navigate(ctx context.Context, page sites.Page) error {
	if a.cfg.Limiter != nil {
		if err := a.cfg.Limiter.Wait(ctx, a.cfg.LookupURL); err != nil {
			return err
		}
	}
	if err := page.Navigate(ctx, a.cfg.LookupURL); err != nil {
		return err
	}
	html, err := page.OuterHTML(ctx, "html")
	if err != nil {
		return err
	}
	return a.scanPage([]byte(html))
}

// scanPage flags pages that are too small to be the lookup surface or
// that contain a configured block keyword. Block pages read as a
// network-level refusal so the retry budget applies.
func (a *Adapter) scanPage(body []byte) error {
	if a.cfg.MinPageBytes > 0 && len(body) < a.cfg.MinPageBytes {
		err := fmt.Errorf("%w: page is %d bytes, below %d", sites.ErrBlocked, len(body), a.cfg.MinPageBytes)
		return recovery.WithKind(err, recovery.KindNetwork)
	}
	if len(a.keywords) == 0 {
		return nil
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range a.keywords {
		if bytes.Contains(lowerBody, kw) {
			err := fmt.Errorf("%w: page contains %q", sites.ErrBlocked, string(kw))
			return recovery.WithKind(err, recovery.KindNetwork)
		}
	}
	return nil
}

// Search types term into the search input and submits it.
func (a *Adapter) Search(ctx context.Context, page sites.Page, term string) error {
	if err := page.Type(ctx, a.cfg.SearchInputSelector, term); err != nil {
		return err
	}
	if a.cfg.SearchSubmitSelector != "" {
		return page.Click(ctx, a.cfg.SearchSubmitSelector)
	}
	return page.Submit(ctx, a.cfg.SearchInputSelector)
}

// WaitForResult blocks until the result region is visible.
func (a *Adapter) WaitForResult(ctx context.Context, page sites.Page) error {
	return page.WaitVisible(ctx, a.cfg.ResultSelector)
}

// ExtractValue pulls the candidate value out of the result region.
func (a *Adapter) ExtractValue(ctx context.Context, page sites.Page) (string, error) {
	html, err := page.OuterHTML(ctx, a.cfg.ResultSelector)
	if err != nil {
		return "", err
	}
	return extractValue(html, a.cfg.ValueSelector)
}

func extractValue(html, selector string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", recovery.WithKind(fmt.Errorf("parse result region: %w", err), recovery.KindDataParse)
	}
	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return "", sites.ErrNoValue
	}
	text := strings.TrimSpace(sel.First().Text())
	if text == "" {
		return "", sites.ErrNoValue
	}
	return text, nil
}
