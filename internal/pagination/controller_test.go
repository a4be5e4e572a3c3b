package pagination

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// fakePage grows its element count by growth[i] on the i-th successful click.
type fakePage struct {
	mu          sync.Mutex
	count       int
	growth      []int
	clicks      int
	selectorHit bool
	textHit     bool
	clickErr    error
	body        string
	overlays    int
	scrolls     int
}

func (p *fakePage) Count(context.Context, string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count, nil
}

func (p *fakePage) RemoveOverlays(context.Context, []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overlays++
	return nil
}

func (p *fakePage) click() {
	if p.clicks < len(p.growth) {
		p.count += p.growth[p.clicks]
	}
	p.clicks++
}

func (p *fakePage) ClickSelector(context.Context, []string, []string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clickErr != nil {
		return false, p.clickErr
	}
	if !p.selectorHit {
		return false, nil
	}
	p.click()
	return true, nil
}

func (p *fakePage) ClickText(context.Context, []string, []string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.textHit {
		return false, nil
	}
	p.click()
	return true, nil
}

func (p *fakePage) ScrollToBottom(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls++
	return nil
}

func (p *fakePage) BodyText(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body, nil
}

func (p *fakePage) Wait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func newController(t *testing.T, emitter progress.Emitter, scrollPasses int) *Controller {
	t.Helper()
	rules, err := catalog.Default()
	require.NoError(t, err)
	rules.Pagination.ScrollPasses = scrollPasses
	rules.Pagination.SettleMs = 0
	rules.Pagination.ScrollWaitMs = 0
	return FromRules(rules, ".product", nil, emitter, nil)
}

func TestRunZeroClicksIsInitialOnly(t *testing.T) {
	t.Parallel()

	page := &fakePage{count: 24, selectorHit: true, growth: []int{24}}
	res, err := newController(t, nil, 0).Run(context.Background(), "job", page, 0)
	require.NoError(t, err)
	require.Equal(t, StopInitialOnly, res.StopReason)
	require.Equal(t, 24, res.InitialCount)
	require.Equal(t, 0, page.clicks)
}

func TestRunCompletesRequestedClicks(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	page := &fakePage{count: 24, selectorHit: true, growth: []int{24, 24}}
	res, err := newController(t, emitter, 0).Run(context.Background(), "job", page, 2)
	require.NoError(t, err)
	require.Equal(t, StopCompleted, res.StopReason)
	require.Equal(t, 2, res.Performed)
	require.Equal(t, 72, res.FinalCount)
	require.Equal(t, 2, page.overlays)
	require.Len(t, emitter.events, 2)
	require.Equal(t, "clicked", emitter.events[0].Outcome)
	require.Equal(t, "selector", emitter.events[0].Strategy)
}

func TestRunStopsOnFirstStagnantClick(t *testing.T) {
	t.Parallel()

	// The second click adds nothing; text and scroll strategies are unavailable.
	page := &fakePage{count: 24, selectorHit: true, growth: []int{24, 0, 24}}
	res, err := newController(t, nil, 0).Run(context.Background(), "job", page, 3)
	require.NoError(t, err)
	require.Equal(t, StopStagnated, res.StopReason)
	require.Equal(t, 1, res.Performed)
	require.Equal(t, 48, res.FinalCount)
	require.Equal(t, 2, page.clicks)
}

func TestRunFallsBackToTextThenScroll(t *testing.T) {
	t.Parallel()

	page := &fakePage{count: 10, textHit: true, growth: []int{5}}
	res, err := newController(t, nil, 2).Run(context.Background(), "job", page, 2)
	require.NoError(t, err)
	// Click 1 via text grows; click 2 via text adds nothing, scroll adds nothing.
	require.Equal(t, StopStagnated, res.StopReason)
	require.Equal(t, 1, res.Performed)
	require.Equal(t, 2, page.scrolls)
}

func TestRunNoControl(t *testing.T) {
	t.Parallel()

	page := &fakePage{count: 10}
	res, err := newController(t, nil, 0).Run(context.Background(), "job", page, 4)
	require.NoError(t, err)
	require.Equal(t, StopNoControl, res.StopReason)
	require.Zero(t, res.Performed)
}

func TestRunEndMarker(t *testing.T) {
	t.Parallel()

	page := &fakePage{count: 10, selectorHit: true, growth: []int{10}, body: "Showing 10 books. No More Products to show"}
	res, err := newController(t, nil, 0).Run(context.Background(), "job", page, 2)
	require.NoError(t, err)
	require.Equal(t, StopEndMarker, res.StopReason)
	require.Zero(t, page.clicks)
}

func TestRunStepErrorsContinue(t *testing.T) {
	t.Parallel()

	page := &fakePage{count: 10, clickErr: errors.New("node detached")}
	res, err := newController(t, nil, 0).Run(context.Background(), "job", page, 2)
	require.NoError(t, err)
	require.Equal(t, 2, res.StepErrors)
	require.Equal(t, StopCompleted, res.StopReason)
	require.Zero(t, res.Performed)
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	page := &fakePage{count: 10, selectorHit: true, growth: []int{1}}
	_, err := newController(t, nil, 0).Run(ctx, "job", page, 2)
	require.ErrorIs(t, err, context.Canceled)
}
