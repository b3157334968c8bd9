// Package probe performs a preflight check of the lookup site before
// any browser instance launches: is the site reachable, and does its
// robots.txt permit automated lookups.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/recovery"
)

// Config controls the preflight check.
type Config struct {
	LookupURL     string
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Result describes what the probe observed.
type Result struct {
	StatusCode    int
	BodyBytes     int
	RobotsAllowed bool
}

// Prober checks the lookup site once per run.
type Prober struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Prober.
func New(cfg Config, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	cfg.Timeout = timeout
	return &Prober{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("probe"),
	}
}

// Check fetches the lookup page and evaluates robots.txt. A robots
// disallow is fatal when respect_robots is set and a warning
// otherwise. Unreachable robots.txt allows access, matching crawler
// convention.
func (p *Prober) Check(ctx context.Context) (Result, error) {
	parsed, err := url.Parse(p.cfg.LookupURL)
	if err != nil || parsed.Host == "" {
		return Result{}, recovery.WithKind(
			fmt.Errorf("invalid lookup url %q", p.cfg.LookupURL), recovery.KindConfig)
	}

	result := Result{RobotsAllowed: p.robotsAllowed(ctx, parsed)}
	if !result.RobotsAllowed {
		if p.cfg.RespectRobots {
			return result, recovery.WithKind(
				fmt.Errorf("robots.txt disallows %s for agent %q", parsed.Path, p.cfg.UserAgent),
				recovery.KindConfig)
		}
		p.logger.Warn("robots.txt disallows lookup path, proceeding anyway",
			zap.String("path", parsed.Path))
	}

	status, size, err := p.fetch(ctx)
	result.StatusCode = status
	result.BodyBytes = size
	if err != nil && status == 0 {
		return result, recovery.WithKind(
			fmt.Errorf("lookup site unreachable: %w", err), recovery.KindNetwork)
	}
	if status >= 400 {
		return result, recovery.WithKind(
			fmt.Errorf("lookup site returned status %d", status), recovery.KindNetwork)
	}

	p.logger.Info("lookup site preflight passed",
		zap.Int("status", status),
		zap.Int("bytes", size),
		zap.Bool("robots_allowed", result.RobotsAllowed))
	return result, nil
}

// fetch performs one GET of the lookup page through colly.
func (p *Prober) fetch(ctx context.Context) (status, size int, err error) {
	collector := colly.NewCollector(colly.Async(false))
	collector.IgnoreRobotsTxt = true // robots already evaluated explicitly
	collector.SetRequestTimeout(p.cfg.Timeout)
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}
	})

	var fetchErr error
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		size = len(r.Body)
	})
	collector.OnError(func(r *colly.Response, e error) {
		status = r.StatusCode
		fetchErr = e
	})

	if err := collector.Visit(p.cfg.LookupURL); err != nil {
		return status, 0, err
	}
	collector.Wait()
	if fetchErr != nil && status == 0 {
		return 0, 0, fetchErr
	}
	return status, size, nil
}

func (p *Prober) robotsAllowed(ctx context.Context, parsed *url.URL) bool {
	robotsURL := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return true
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("robots fetch failed, allowing access",
			zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.Debug("closing robots response body", zap.Error(cerr))
		}
	}()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		p.logger.Warn("robots parse failed, allowing access", zap.Error(err))
		return true
	}
	group := data.FindGroup(agentToken(p.cfg.UserAgent))
	if group == nil {
		return true
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	return group.Test(path)
}

// agentToken reduces a full User-Agent header to the product token
// robots groups match on.
func agentToken(userAgent string) string {
	token := strings.TrimSpace(userAgent)
	if i := strings.IndexAny(token, "/ ("); i > 0 {
		token = token[:i]
	}
	if token == "" {
		return "*"
	}
	return token
}
