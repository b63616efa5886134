package receipt

import (
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"feeportal/internal/metrics"
)

// Blob is the content behind a live object URL.
type Blob struct {
	Owner       string
	ContentType string
	Data        []byte
	Created     time.Time
}

// Registry hands out object URLs for downloaded receipts. A URL stays
// dereferenceable until it is revoked, and it is revoked at most once.
type Registry struct {
	prefix  string
	metrics *metrics.Metrics
	log     *slog.Logger

	mu    sync.Mutex
	blobs map[string]Blob
}

// NewRegistry creates an empty registry whose URLs start with prefix,
// e.g. "/blobs".
func NewRegistry(prefix string, m *metrics.Metrics, logger *slog.Logger) *Registry {
	if m == nil {
		m = metrics.Discard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		prefix:  path.Clean("/" + prefix),
		metrics: m,
		log:     logger,
		blobs:   make(map[string]Blob),
	}
}

// Create stores data and returns its object URL.
func (r *Registry) Create(owner string, data []byte, contentType string) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.blobs[id] = Blob{Owner: owner, ContentType: contentType, Data: data, Created: time.Now()}
	r.mu.Unlock()
	r.metrics.ObjectURLs.Inc()
	return path.Join(r.prefix, id)
}

// Resolve looks up a live URL. It accepts the full URL or its last segment.
func (r *Registry) Resolve(ref string) (Blob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blobs[path.Base(ref)]
	return b, ok
}

// Revoke releases a URL. It reports false, and changes nothing, when the URL
// is unknown or was already revoked.
func (r *Registry) Revoke(ref string) bool {
	id := path.Base(ref)
	r.mu.Lock()
	_, ok := r.blobs[id]
	delete(r.blobs, id)
	r.mu.Unlock()
	if !ok {
		r.log.Warn("object url revoked twice or never created", "url", ref)
		return false
	}
	r.metrics.ObjectURLs.Dec()
	return true
}

// Len is the number of live URLs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blobs)
}
