// Package robots implements the fail-closed crawl permission gate backed by a
// site's robots.txt.
package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const maxBodyBytes = 1 << 20

var errTooLarge = errors.New("robots.txt exceeds size limit")

// Config tunes the gate.
type Config struct {
	Timeout   time.Duration
	CacheTTL  time.Duration
	CacheSize int
	// UserAgent is the token matched against User-agent groups besides "*".
	UserAgent string
	// Client overrides the HTTP client; its transport is wrapped with retries.
	Client *http.Client
}

// Gate decides whether a path may be crawled. Any uncertainty denies.
type Gate struct {
	client    *http.Client
	cache     *expirable.LRU[string, string]
	userAgent string
	logger    *zap.Logger
}

// New builds a Gate.
func New(cfg Config, logger *zap.Logger) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 128
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "*"
	}
	base := http.DefaultTransport
	if cfg.Client != nil && cfg.Client.Transport != nil {
		base = cfg.Client.Transport
	}
	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &retryTransport{base: base, backoff: retryBackoff},
	}
	return &Gate{
		client:    client,
		cache:     expirable.NewLRU[string, string](cfg.CacheSize, nil, cfg.CacheTTL),
		userAgent: cfg.UserAgent,
		logger:    logging.OrNop(logger).Named("robots"),
	}
}

// Allowed reports whether path on baseURL may be crawled by userAgent
// (the configured token when empty).
func (g *Gate) Allowed(ctx context.Context, baseURL, path, userAgent string) bool {
	if userAgent == "" {
		userAgent = g.userAgent
	}
	allowed, err := g.decide(ctx, baseURL, path, userAgent)
	if err != nil {
		g.logger.Warn("robots check failed; denying",
			zap.String("base_url", baseURL),
			zap.String("path", path),
			zap.Error(err),
		)
		allowed = false
	}
	metrics.ObservePolicyDecision(allowed)
	g.logger.Debug("robots decision",
		zap.String("base_url", baseURL),
		zap.String("path", path),
		zap.Bool("allowed", allowed),
	)
	return allowed
}

func (g *Gate) decide(ctx context.Context, baseURL, path, userAgent string) (bool, error) {
	origin, err := originOf(baseURL)
	if err != nil {
		return false, err
	}
	body, ok := g.cache.Get(origin)
	if !ok {
		body, err = g.fetch(ctx, origin)
		if err != nil {
			return false, err
		}
		g.cache.Add(origin, body)
	}
	rules, err := Parse(strings.NewReader(body), userAgent)
	if err != nil {
		return false, fmt.Errorf("parse robots.txt: %w", err)
	}
	return rules.Allowed(path), nil
}

func (g *Gate) fetch(ctx context.Context, origin string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return "", fmt.Errorf("build robots request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("robots body close failed", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch robots.txt: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return "", fmt.Errorf("read robots.txt: %w", err)
	}
	if len(data) > maxBodyBytes {
		return "", errTooLarge
	}
	return string(data), nil
}

func originOf(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %q is not absolute", baseURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
