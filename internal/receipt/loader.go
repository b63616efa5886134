package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"feeportal/internal/apiclient"
	"feeportal/internal/auth"
	"feeportal/internal/metrics"
)

// Downloader is the part of the API client the loader needs.
type Downloader interface {
	PaymentFile(ctx context.Context, token string, paymentID int64) (apiclient.File, error)
}

// TokenSource hands out the current bearer token.
type TokenSource interface {
	Token() (string, error)
}

// Phase of a receipt download.
type Phase int

const (
	PhaseEmpty Phase = iota
	PhaseLoading
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	}
	return "empty"
}

// State is what the loader currently holds for the selected payment. URL and
// ContentType are set only in PhaseReady, Err only in PhaseFailed.
type State struct {
	PaymentID   int64
	Phase       Phase
	URL         string
	ContentType string
	Size        int
	Err         string
	Generation  uint64
}

// Loader downloads one receipt at a time and owns the object URL for it.
type Loader struct {
	api     Downloader
	tokens  TokenSource
	reg     *Registry
	owner   string
	metrics *metrics.Metrics
	log     *slog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	state  State
	closed bool
}

// NewLoader creates a loader whose URLs are registered under owner.
func NewLoader(api Downloader, tokens TokenSource, reg *Registry, owner string, m *metrics.Metrics, logger *slog.Logger) *Loader {
	if m == nil {
		m = metrics.Discard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		api:     api,
		tokens:  tokens,
		reg:     reg,
		owner:   owner,
		metrics: m,
		log:     logger.With("component", "receipt"),
	}
}

// State returns the current state.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Select switches to payment id. Prior state is cleared and the previous URL
// revoked before the download starts; id 0 only clears. committed reports
// whether the result is the one now held, i.e. no later Select or Close
// superseded it. When ctx ends first the loader returns to empty.
func (l *Loader) Select(ctx context.Context, id int64) (st State, committed bool) {
	l.mu.Lock()
	if l.closed {
		st = l.state
		l.mu.Unlock()
		return st, false
	}
	gen := l.resetLocked()
	if id <= 0 {
		st = l.state
		l.mu.Unlock()
		return st, true
	}
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.cancel = cancel
	l.state = State{PaymentID: id, Phase: PhaseLoading, Generation: gen}
	l.mu.Unlock()

	file, err := l.download(reqCtx, id)

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen || l.closed {
		l.metrics.StaleResponses.WithLabelValues("receipt").Inc()
		l.log.Debug("discarding superseded receipt", "payment_id", id)
		return State{PaymentID: id, Phase: PhaseEmpty, Generation: gen}, false
	}
	l.cancel = nil
	if ctx.Err() != nil {
		// the caller gave up; nothing was shown, so nothing failed
		l.state = State{Phase: PhaseEmpty, Generation: gen}
		return l.state, false
	}
	if err != nil {
		l.metrics.ReceiptFetches.WithLabelValues("error").Inc()
		l.state = State{PaymentID: id, Phase: PhaseFailed, Err: errorMessage(err), Generation: gen}
		return l.state, true
	}

	ct := contentType(file)
	l.metrics.ReceiptFetches.WithLabelValues("success").Inc()
	l.state = State{
		PaymentID:   id,
		Phase:       PhaseReady,
		URL:         l.reg.Create(l.owner, file.Data, ct),
		ContentType: ct,
		Size:        len(file.Data),
		Generation:  gen,
	}
	return l.state, true
}

// Close revokes the current URL and rejects further selections.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.resetLocked()
	l.closed = true
}

// resetLocked supersedes any download in flight and releases the held URL.
func (l *Loader) resetLocked() uint64 {
	l.gen++
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.state.URL != "" {
		l.reg.Revoke(l.state.URL)
	}
	l.state = State{Generation: l.gen}
	return l.gen
}

func (l *Loader) download(ctx context.Context, id int64) (apiclient.File, error) {
	token, err := l.tokens.Token()
	if err != nil {
		return apiclient.File{}, err
	}
	file, err := l.api.PaymentFile(ctx, token, id)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			l.log.Warn("receipt download failed", "payment_id", id, "error", err)
		}
		return apiclient.File{}, err
	}
	return file, nil
}

const errPrefix = "Impossible d'afficher le reçu: "

func errorMessage(err error) string {
	var se *apiclient.StatusError
	switch {
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, apiclient.ErrUnauthenticated):
		return errPrefix + "authentification requise"
	case errors.As(err, &se) && se.Detail != "":
		return errPrefix + se.Detail
	case errors.As(err, &se):
		return errPrefix + fmt.Sprintf("échec du téléchargement (HTTP %d)", se.Code)
	default:
		return errPrefix + "échec du téléchargement"
	}
}

// contentType is the declared media type without parameters, sniffed from
// the bytes when the server did not say anything useful.
func contentType(f apiclient.File) string {
	declared := strings.ToLower(strings.TrimSpace(f.ContentType))
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		declared = mt
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	sniffed := mimetype.Detect(f.Data).String()
	if mt, _, err := mime.ParseMediaType(sniffed); err == nil {
		return mt
	}
	return sniffed
}
