package workspace

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"feeportal/internal/auth"
	"feeportal/internal/dashboard"
	"feeportal/internal/filter"
	"feeportal/internal/listing"
	"feeportal/internal/receipt"
	"feeportal/internal/viewer"
)

// Views a workspace can show.
const (
	ViewHistory = "history"
	ViewQueue   = "queue"
)

var (
	ErrUnknownView = errors.New("workspace: unknown view")
	ErrForbidden   = errors.New("workspace: view not allowed for this role")
)

// Board is one list view: its filters and the fetch loop behind them.
type Board struct {
	Name string
	ctrl *listing.Controller
}

// Controller exposes the list controller.
func (b *Board) Controller() *listing.Controller { return b.ctrl }

// Filters exposes the filter manager.
func (b *Board) Filters() *filter.Manager { return b.ctrl.Filters() }

// View renders the committed list state.
func (b *Board) View() listing.View {
	f := b.ctrl.Fetcher()
	v := listing.BuildView(f.State(), f.PageSize())
	// echo what the user is typing, not the last settled filters
	v.Filters = b.ctrl.Filters().Current()
	return v
}

// Wait blocks until the list settles, then renders it.
func (b *Board) Wait(ctx context.Context) (listing.View, error) {
	if _, err := b.ctrl.Wait(ctx); err != nil {
		return b.View(), err
	}
	return b.View(), nil
}

// Workspace is the presentation state of one signed-in browser session.
type Workspace struct {
	ID        string
	Auth      *auth.Store
	Viewer    *viewer.Viewer
	Dashboard *dashboard.Loader

	deps     Deps
	log      *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastSeen atomic.Int64

	mu     sync.Mutex
	boards map[string]*Board
	closed bool
}

func newWorkspace(id string, deps Deps) *Workspace {
	ctx, cancel := context.WithCancel(context.Background())
	log := deps.Logger.With("workspace", id)
	store := auth.NewStore(id, deps.Persister, deps.SessionTTL)
	loader := receipt.NewLoader(deps.API, store, deps.Blobs, id, deps.Metrics, log)
	w := &Workspace{
		ID:        id,
		Auth:      store,
		Viewer:    viewer.New(loader, deps.Blobs, deps.Viewer, log),
		Dashboard: dashboard.NewLoader(deps.API, deps.Reporter, log),
		deps:      deps,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		boards:    make(map[string]*Board),
	}
	w.Touch()
	return w
}

// Touch marks the workspace as used now.
func (w *Workspace) Touch() { w.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen is when the workspace was last used.
func (w *Workspace) LastSeen() time.Time { return time.Unix(0, w.lastSeen.Load()) }

// Login replaces the session token and reloads every open list.
func (w *Workspace) Login(ctx context.Context, token string, user auth.User) (auth.Session, error) {
	sess, err := w.Auth.Login(ctx, token, user)
	if err != nil {
		return auth.Session{}, err
	}
	w.mu.Lock()
	for _, b := range w.boards {
		b.ctrl.Refresh()
	}
	w.mu.Unlock()
	return sess, nil
}

// Board returns the named list, starting its fetch loop on first use.
func (w *Workspace) Board(name string) (*Board, error) {
	rule, ok := map[string]listing.StatusRule{
		ViewHistory: listing.HistoryRule,
		ViewQueue:   listing.QueueRule,
	}[name]
	if !ok {
		return nil, ErrUnknownView
	}
	if name == ViewQueue {
		u, ok := w.Auth.User()
		if !ok || !u.IsStaff() {
			return nil, ErrForbidden
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, context.Canceled
	}
	if b, ok := w.boards[name]; ok {
		return b, nil
	}

	fetcher := listing.NewFetcher(w.deps.API, w.Auth, listing.Options{
		Name:     name,
		PageSize: w.deps.PageSize,
		Rule:     rule,
		Reporter: w.deps.Reporter,
		Metrics:  w.deps.Metrics,
		Logger:   w.log,
	})
	fm := filter.NewManager(w.deps.FilterWindow, w.log.With("view", name))
	b := &Board{Name: name, ctrl: listing.NewController(fetcher, fm, w.log.With("view", name))}
	w.boards[name] = b

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer fm.Close()
		if err := b.ctrl.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error("list loop stopped", "view", name, "error", err)
		}
	}()
	return b, nil
}

// Close stops every list loop and releases the receipt being viewed.
func (w *Workspace) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	w.Viewer.Release()
	w.wg.Wait()
}
