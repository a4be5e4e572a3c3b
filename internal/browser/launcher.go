// Package browser manages job-scoped headless Chrome sessions via chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

const defaultNavTimeout = 30 * time.Second

// Config controls session launch and navigation.
type Config struct {
	MaxSessions    int
	NavTimeout     time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	// ChromePath overrides the Chrome binary lookup.
	ChromePath string
}

// Pacer delays navigation to respect per-host budgets.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Opener opens a session on a URL. Launcher implements it.
type Opener interface {
	Open(ctx context.Context, jobID, rawURL string) (*Session, error)
}

// Launcher starts one Chrome per session and bounds how many run at once.
type Launcher struct {
	cfg     Config
	slots   chan struct{}
	pacer   Pacer
	clock   crawler.Clock
	emitter progress.Emitter
	logger  *zap.Logger
}

// NewLauncher validates cfg and returns a Launcher.
func NewLauncher(cfg Config, pacer Pacer, clock crawler.Clock, emitter progress.Emitter, logger *zap.Logger) (*Launcher, error) {
	if cfg.MaxSessions <= 0 {
		return nil, errors.New("browser max sessions must be > 0")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = defaultNavTimeout
	}
	if cfg.ViewportWidth <= 0 || cfg.ViewportHeight <= 0 {
		cfg.ViewportWidth, cfg.ViewportHeight = 1366, 768
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		cfg:     cfg,
		slots:   make(chan struct{}, cfg.MaxSessions),
		pacer:   pacer,
		clock:   clock,
		emitter: progress.OrNop(emitter),
		logger:  logger.Named("browser"),
	}, nil
}

// allocatorOptions returns the Chrome flags used for containerized runs.
func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.DisableGPU,
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(l.cfg.ViewportWidth, l.cfg.ViewportHeight),
	)
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}
	if l.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ChromePath))
	}
	return opts
}

// Open launches Chrome under ctx and navigates to rawURL. Launch failures
// wrap crawler.ErrBrowserLaunch and navigation failures crawler.ErrNavigation;
// either way every allocated resource is released before returning.
func (l *Launcher) Open(ctx context.Context, jobID, rawURL string) (*Session, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...any) {}))
	s := &Session{
		ctx:    tabCtx,
		url:    rawURL,
		logger: l.logger.With(zap.String("job_id", jobID)),
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		release: l.release,
	}
	metrics.IncBrowserSessions()

	// The first Run starts the browser; it must not carry the navigation deadline.
	if err := chromedp.Run(tabCtx, l.setupAction()); err != nil {
		s.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("browser launch canceled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", crawler.ErrBrowserLaunch, err)
	}
	if l.pacer != nil {
		if err := l.pacer.Wait(ctx, rawURL); err != nil {
			s.Close()
			return nil, err
		}
	}

	start := time.Now()
	if err := s.navigate(l.cfg.NavTimeout); err != nil {
		s.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("navigation canceled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %w", crawler.ErrNavigation, rawURL, err)
	}
	l.emitter.Emit(progress.Event{
		JobID: jobID,
		TS:    l.now(),
		Stage: progress.StagePageLoaded,
		URL:   rawURL,
		Dur:   time.Since(start),
	})
	s.logger.Info("page loaded", zap.String("url", rawURL), zap.Duration("dur", time.Since(start)))
	return s, nil
}

func (l *Launcher) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if l.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(l.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if err := emulation.SetDeviceMetricsOverride(int64(l.cfg.ViewportWidth), int64(l.cfg.ViewportHeight), 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		return nil
	})
}

func (l *Launcher) acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (l *Launcher) release() {
	select {
	case <-l.slots:
	default:
	}
}

func (l *Launcher) now() time.Time {
	if l.clock != nil {
		return l.clock.Now()
	}
	return time.Now().UTC()
}
