package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"feeportal/internal/apiclient"
	"feeportal/internal/auth"
	"feeportal/internal/dashboard"
	"feeportal/internal/diagnostics"
	"feeportal/internal/listing"
	"feeportal/internal/metrics"
	"feeportal/internal/receipt"
	"feeportal/internal/viewer"
)

// ErrNotFound means the session id is unknown or its session has ended.
var ErrNotFound = errors.New("workspace: session not found")

// API is everything a workspace calls on the remote tuition API.
type API interface {
	listing.Lister
	receipt.Downloader
	dashboard.Source
}

var _ API = (*apiclient.Client)(nil)

// Deps are shared by all workspaces.
type Deps struct {
	API          API
	Persister    auth.Persister
	Blobs        *receipt.Registry
	Reporter     diagnostics.Reporter
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	SessionTTL   time.Duration
	FilterWindow time.Duration
	PageSize     int
	Viewer       viewer.Config
}

// Registry maps session ids to live workspaces.
type Registry struct {
	deps Deps

	mu    sync.Mutex
	items map[string]*Workspace
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Discard()
	}
	if deps.Persister == nil {
		deps.Persister = auth.NewMemoryPersister()
	}
	if deps.Blobs == nil {
		deps.Blobs = receipt.NewRegistry("/blobs", deps.Metrics, deps.Logger)
	}
	return &Registry{deps: deps, items: make(map[string]*Workspace)}
}

// Create signs in a new session.
func (r *Registry) Create(ctx context.Context, token string, user auth.User) (*Workspace, auth.Session, error) {
	w := newWorkspace(uuid.NewString(), r.deps)
	sess, err := w.Auth.Login(ctx, token, user)
	if err != nil {
		w.Close()
		return nil, auth.Session{}, err
	}
	r.mu.Lock()
	r.items[w.ID] = w
	n := len(r.items)
	r.mu.Unlock()
	r.deps.Metrics.Workspaces.Set(float64(n))
	r.deps.Logger.Info("session started", "workspace", w.ID, "role", sess.User.Role)
	return w, sess, nil
}

// Get returns the workspace of id. A session persisted by an earlier process
// is rehydrated into a fresh workspace.
func (r *Registry) Get(ctx context.Context, id string) (*Workspace, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	r.mu.Lock()
	w, ok := r.items[id]
	r.mu.Unlock()
	if ok {
		w.Touch()
		return w, nil
	}

	w = newWorkspace(id, r.deps)
	if err := w.Auth.Hydrate(ctx); err != nil {
		w.Close()
		return nil, fmt.Errorf("restore session: %w", err)
	}
	if _, err := w.Auth.Token(); err != nil {
		w.Close()
		return nil, ErrNotFound
	}

	r.mu.Lock()
	if existing, ok := r.items[id]; ok {
		r.mu.Unlock()
		w.Close()
		existing.Touch()
		return existing, nil
	}
	r.items[id] = w
	n := len(r.items)
	r.mu.Unlock()
	r.deps.Metrics.Workspaces.Set(float64(n))
	r.deps.Logger.Info("session restored", "workspace", id)
	return w, nil
}

// Remove signs the session out and tears its workspace down.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	w, ok := r.items[id]
	delete(r.items, id)
	n := len(r.items)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	r.deps.Metrics.Workspaces.Set(float64(n))
	w.Close()
	return w.Auth.Logout(ctx)
}

// Sweep closes workspaces unused for longer than idle. Their persisted
// sessions survive, so the next request restores them.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	var stale []*Workspace
	r.mu.Lock()
	for id, w := range r.items {
		if w.LastSeen().Before(cutoff) {
			stale = append(stale, w)
			delete(r.items, id)
		}
	}
	n := len(r.items)
	r.mu.Unlock()

	r.deps.Metrics.Workspaces.Set(float64(n))
	for _, w := range stale {
		w.Close()
	}
	if len(stale) > 0 {
		r.deps.Logger.Info("idle workspaces closed", "count", len(stale))
	}
	return len(stale)
}

// RunSweeper sweeps every interval until ctx ends.
func (r *Registry) RunSweeper(ctx context.Context, every, idle time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep(idle)
		}
	}
}

// Blobs is the object url registry shared by all workspaces.
func (r *Registry) Blobs() *receipt.Registry { return r.deps.Blobs }

// Len is the number of live workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Close tears every workspace down without signing anyone out.
func (r *Registry) Close() {
	r.mu.Lock()
	items := r.items
	r.items = make(map[string]*Workspace)
	r.mu.Unlock()
	for _, w := range items {
		w.Close()
	}
	r.deps.Metrics.Workspaces.Set(0)
}
