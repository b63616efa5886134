package listing

import (
	"context"
	"log/slog"
	"sync"

	"feeportal/internal/filter"
)

// Controller re-runs the fetcher whenever its inputs change: settled
// filters, the page, or an explicit refresh (e.g. a token became available).
type Controller struct {
	fetcher *Fetcher
	filters *filter.Manager
	log     *slog.Logger

	mu      sync.Mutex
	page    int
	trigger chan struct{}
}

// NewController binds a fetcher to a filter manager.
func NewController(f *Fetcher, fm *filter.Manager, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		fetcher: f,
		filters: fm,
		log:     logger,
		page:    1,
		trigger: make(chan struct{}, 1),
	}
}

// Fetcher exposes the underlying fetcher.
func (c *Controller) Fetcher() *Fetcher { return c.fetcher }

// Filters exposes the filter manager.
func (c *Controller) Filters() *filter.Manager { return c.filters }

// Page is the current 1-indexed page.
func (c *Controller) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// SetPage moves to page p (clamped to >= 1) and schedules a fetch.
func (c *Controller) SetPage(p int) {
	if p < 1 {
		p = 1
	}
	c.mu.Lock()
	changed := c.page != p
	c.page = p
	c.mu.Unlock()
	if changed {
		c.poke()
	}
}

// Refresh schedules a fetch with the current inputs.
func (c *Controller) Refresh() { c.poke() }

func (c *Controller) poke() {
	select {
	case c.trigger <- struct{}{}:
	default:
		// a pending trigger will read the latest page anyway
	}
}

// Run performs the initial fetch and then reacts to changes until ctx ends.
// Generations are taken here, in trigger order; only the I/O runs in its
// own goroutine.
func (c *Controller) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	load := func(fs filter.State, page int) {
		req, ok := c.fetcher.Begin(ctx, fs, page)
		if !ok {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.fetcher.Finish(req)
		}()
	}
	defer func() {
		c.fetcher.Detach()
		wg.Wait()
	}()

	load(c.filters.Settled(), c.Page())
	changes := c.filters.Changes()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fs, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			c.mu.Lock()
			c.page = 1
			c.mu.Unlock()
			c.log.Debug("filters settled, reloading", "filters", fs)
			load(fs, 1)
		case <-c.trigger:
			load(c.filters.Settled(), c.Page())
		}
	}
}

// Wait blocks until the list has settled for the current inputs: filters
// still inside their debounce window and a page change not yet picked up
// both keep it waiting.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	return c.fetcher.WaitFor(ctx, func(st State) bool {
		return Settled(st) && st.Filters == c.filters.Current() && st.Page == c.Page()
	})
}
