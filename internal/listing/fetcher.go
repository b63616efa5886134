package listing

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"feeportal/internal/apiclient"
	"feeportal/internal/diagnostics"
	"feeportal/internal/filter"
	"feeportal/internal/metrics"
	"feeportal/internal/payment"
)

// Lister is the part of the API client the fetcher needs.
type Lister interface {
	History(ctx context.Context, token string, q apiclient.HistoryQuery) ([]byte, error)
}

// TokenSource hands out the current bearer token.
type TokenSource interface {
	Token() (string, error)
}

// StatusRule turns the filter's status into the statuses to query.
type StatusRule func(status string) []string

// Resolve builds a rule that substitutes defaults when status is absent or "all".
func Resolve(defaults ...payment.Status) StatusRule {
	def := make([]string, len(defaults))
	for i, s := range defaults {
		def[i] = string(s)
	}
	return func(status string) []string {
		s := strings.TrimSpace(status)
		if s == "" || s == filter.All {
			return append([]string(nil), def...)
		}
		return []string{s}
	}
}

var (
	// HistoryRule lists settled payments.
	HistoryRule = Resolve(payment.StatusApproved, payment.StatusRejected)
	// QueueRule lists payments waiting for review.
	QueueRule = Resolve(payment.StatusPending)
)

// Phase is the fetch state machine: idle -> loading -> success | error.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseSuccess
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseSuccess:
		return "success"
	case PhaseError:
		return "error"
	}
	return "idle"
}

// State is the committed result of the latest request.
type State struct {
	Phase         Phase
	Records       []payment.Record
	Total         int
	TotalReported bool
	Filters       filter.State
	Page          int
	Err           *Error
	Generation    uint64
}

// Options configure a Fetcher.
type Options struct {
	Name     string
	PageSize int
	Rule     StatusRule
	Reporter diagnostics.Reporter
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Fetcher runs list queries and commits only the newest one.
type Fetcher struct {
	api      Lister
	tokens   TokenSource
	name     string
	pageSize int
	rule     StatusRule
	reporter diagnostics.Reporter
	metrics  *metrics.Metrics
	log      *slog.Logger

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	state    State
	changed  chan struct{}
	detached bool
}

// NewFetcher creates an idle fetcher.
func NewFetcher(api Lister, tokens TokenSource, opts Options) *Fetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}
	if opts.Rule == nil {
		opts.Rule = HistoryRule
	}
	if opts.Name == "" {
		opts.Name = "history"
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Fetcher{
		api:      api,
		tokens:   tokens,
		name:     opts.Name,
		pageSize: opts.PageSize,
		rule:     opts.Rule,
		reporter: opts.Reporter,
		metrics:  opts.Metrics,
		log:      opts.Logger.With("view", opts.Name),
		changed:  make(chan struct{}),
	}
}

// PageSize is the fixed number of rows per page.
func (f *Fetcher) PageSize() int { return f.pageSize }

// State returns the committed state.
func (f *Fetcher) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Request is a list query that has taken its generation but not yet run.
type Request struct {
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	gen     uint64
	filters filter.State
	page    int
}

// Begin claims the next generation, cancels the request in flight and
// shows the loading state. ok is false once the fetcher is detached.
// Requests are ordered by Begin, not by when their I/O runs.
func (f *Fetcher) Begin(ctx context.Context, filters filter.State, page int) (req *Request, ok bool) {
	if page < 1 {
		page = 1
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detached {
		return nil, false
	}
	f.gen++
	if f.cancel != nil {
		f.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.commitLocked(State{Phase: PhaseLoading, Filters: filters, Page: page, Generation: f.gen})
	return &Request{parent: ctx, ctx: reqCtx, cancel: cancel, gen: f.gen, filters: filters, page: page}, true
}

// Finish runs req and commits its result unless a newer request began in
// the meantime. committed reports whether the returned state became visible.
func (f *Fetcher) Finish(req *Request) (st State, committed bool) {
	defer req.cancel()
	next := f.fetch(req.ctx, req.filters, req.page)
	next.Filters, next.Page, next.Generation = req.filters, req.page, req.gen

	f.mu.Lock()
	defer f.mu.Unlock()
	if req.gen != f.gen || f.detached {
		f.metrics.StaleResponses.WithLabelValues("list").Inc()
		f.log.Debug("discarding superseded list response", "generation", req.gen, "latest", f.gen)
		return next, false
	}
	f.cancel = nil
	if req.parent.Err() != nil {
		// owner went away without detaching; drop back to idle
		f.commitLocked(State{Phase: PhaseIdle, Filters: req.filters, Page: req.page, Generation: req.gen})
		return f.state, false
	}
	f.commitLocked(next)
	return next, true
}

// Load queries one page: Begin followed by Finish. Starting a Load cancels
// the one in flight; a superseded Load never commits.
func (f *Fetcher) Load(ctx context.Context, filters filter.State, page int) (st State, committed bool) {
	req, ok := f.Begin(ctx, filters, page)
	if !ok {
		return f.State(), false
	}
	return f.Finish(req)
}

func (f *Fetcher) fetch(ctx context.Context, filters filter.State, page int) State {
	token, err := f.tokens.Token()
	if err != nil {
		return f.fail(err)
	}

	q := apiclient.HistoryQuery{
		Search:   filters.Search,
		School:   filters.School,
		Period:   filters.Period,
		Statuses: f.rule(filters.Status),
		Page:     page,
		Limit:    f.pageSize,
	}
	body, err := f.api.History(ctx, token, q)
	if err != nil {
		if ctx.Err() != nil {
			// superseded or detached; Finish discards it
			return State{Phase: PhaseIdle}
		}
		return f.fail(err)
	}

	parsed, err := payment.ParseList(body)
	if err != nil {
		diagnostics.Report(ctx, f.reporter, f.name, err)
		return f.fail(err)
	}
	if !parsed.TotalReported {
		f.log.Warn("list response has no total; page count falls back to page length", "records", len(parsed.Records))
	}
	f.metrics.ListFetches.WithLabelValues(f.name, "success").Inc()
	return State{
		Phase:         PhaseSuccess,
		Records:       parsed.Records,
		Total:         parsed.Total,
		TotalReported: parsed.TotalReported,
	}
}

func (f *Fetcher) fail(err error) State {
	e := classify(err)
	f.metrics.ListFetches.WithLabelValues(f.name, e.Kind.String()).Inc()
	if e.Kind == KindServer {
		f.log.Warn("list fetch failed", "error", err)
	}
	return State{Phase: PhaseError, Err: e}
}

// Wait blocks until a request has settled, successfully or not. An idle
// fetcher has its first request still to come.
func (f *Fetcher) Wait(ctx context.Context) (State, error) {
	return f.WaitFor(ctx, Settled)
}

// WaitFor blocks until the committed state satisfies cond.
func (f *Fetcher) WaitFor(ctx context.Context, cond func(State) bool) (State, error) {
	for {
		f.mu.Lock()
		st, ch := f.state, f.changed
		f.mu.Unlock()
		if cond(st) {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Settled reports whether st is the outcome of a finished request.
func Settled(st State) bool {
	return st.Phase == PhaseSuccess || st.Phase == PhaseError
}

// Detach cancels the request in flight and freezes the state. Used when the
// owning view goes away.
func (f *Fetcher) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = true
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

func (f *Fetcher) commitLocked(s State) {
	f.state = s
	close(f.changed)
	f.changed = make(chan struct{})
}
