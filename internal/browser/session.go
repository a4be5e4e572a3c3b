package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const targetAttr = "data-crawler-target"

// Session is one live tab owned by a single job. It implements pagination.Page.
type Session struct {
	ctx     context.Context
	url     string
	logger  *zap.Logger
	cancel  func()
	release func()
	once    sync.Once
}

// URL returns the address the session navigated to.
func (s *Session) URL() string { return s.url }

func (s *Session) navigate(timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	return chromedp.Run(navCtx,
		chromedp.Navigate(s.url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// run executes actions in the tab unless ctx has already ended.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := chromedp.Run(s.ctx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// HTML returns the rendered document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Count implements pagination.Page.
func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	var n int
	err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector)), &n))
	return n, err
}

// RemoveOverlays implements pagination.Page.
func (s *Session) RemoveOverlays(ctx context.Context, selectors []string) error {
	script := fmt.Sprintf(`(() => {
  let n = 0;
  for (const sel of %s) {
    try { document.querySelectorAll(sel).forEach(el => { el.remove(); n++; }); } catch (e) {}
  }
  return n;
})()`, jsValue(selectors))
	var removed int
	return s.run(ctx, chromedp.Evaluate(script, &removed))
}

// ClickSelector implements pagination.Page.
func (s *Session) ClickSelector(ctx context.Context, selectors, disabledPhrases []string) (bool, error) {
	script := fmt.Sprintf(`(() => {
  document.querySelectorAll('[%[1]s]').forEach(el => el.removeAttribute('%[1]s'));
  const disabled = %[3]s;
  for (const sel of %[2]s) {
    let nodes;
    try { nodes = document.querySelectorAll(sel); } catch (e) { continue; }
    for (const el of nodes) {
      const style = window.getComputedStyle(el);
      if (el.offsetParent === null || style.visibility === 'hidden' || el.disabled) continue;
      const text = (el.textContent || '').toLowerCase();
      if (disabled.some(p => text.includes(p))) continue;
      el.setAttribute('%[1]s', '1');
      return true;
    }
  }
  return false;
})()`, targetAttr, jsValue(selectors), jsValue(lower(disabledPhrases)))
	return s.clickMarked(ctx, script)
}

// ClickText implements pagination.Page.
func (s *Session) ClickText(ctx context.Context, tags, phrases []string) (bool, error) {
	script := fmt.Sprintf(`(() => {
  document.querySelectorAll('[%[1]s]').forEach(el => el.removeAttribute('%[1]s'));
  const phrases = %[3]s;
  for (const el of document.querySelectorAll(%[2]s)) {
    if (el.offsetParent === null || el.disabled) continue;
    const text = (el.textContent || '').trim().toLowerCase();
    if (text.length > 0 && phrases.some(p => text.includes(p))) {
      el.setAttribute('%[1]s', '1');
      return true;
    }
  }
  return false;
})()`, targetAttr, jsString(joinSelectors(tags)), jsValue(lower(phrases)))
	return s.clickMarked(ctx, script)
}

func (s *Session) clickMarked(ctx context.Context, markScript string) (bool, error) {
	var found bool
	if err := s.run(ctx, chromedp.Evaluate(markScript, &found)); err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	sel := "[" + targetAttr + "]"
	if err := s.run(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
	); err != nil {
		return false, err
	}
	return true, nil
}

// ScrollToBottom implements pagination.Page.
func (s *Session) ScrollToBottom(ctx context.Context) error {
	return s.run(ctx, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
}

// BodyText implements pagination.Page.
func (s *Session) BodyText(ctx context.Context) (string, error) {
	var text string
	err := s.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &text))
	return text, err
}

// Wait implements pagination.Page.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down the tab and browser process. It is safe to call repeatedly.
func (s *Session) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.release != nil {
			s.release()
		}
		metrics.DecBrowserSessions()
		if s.logger != nil {
			s.logger.Debug("browser session closed", zap.String("url", s.url))
		}
	})
}

func jsValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func jsString(s string) string {
	return jsValue(s)
}

func joinSelectors(tags []string) string {
	if len(tags) == 0 {
		return "button, a"
	}
	return strings.Join(tags, ", ")
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}
