package viewer

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"feeportal/internal/debounce"
	"feeportal/internal/receipt"
)

// Mode is what the viewer body shows.
type Mode string

const (
	ModeEmpty       Mode = "empty"
	ModeLoading     Mode = "loading"
	ModePDF         Mode = "pdf"
	ModeImage       Mode = "image"
	ModeUnsupported Mode = "unsupported"
	ModeError       Mode = "error"  // the download failed
	ModeFailed      Mode = "failed" // the download worked but the file could not be opened
)

const (
	msgUnreadable  = "Impossible d'afficher le reçu: fichier illisible"
	msgUnsupported = "Type de fichier non pris en charge"
	msgGone        = "Impossible d'afficher le reçu: fichier expiré"
)

// Config sizes the rendered page.
type Config struct {
	MaxWidth       int
	WidthFraction  float64
	ResizeDebounce time.Duration
}

// DefaultConfig renders at most 800px wide, or 90% of a narrower viewport.
func DefaultConfig() Config {
	return Config{MaxWidth: 800, WidthFraction: 0.9, ResizeDebounce: 150 * time.Millisecond}
}

// RenderWidth is min(maxWidth, viewport*fraction). An unknown viewport
// (<= 0) renders at maxWidth.
func RenderWidth(viewport, maxWidth int, fraction float64) int {
	if viewport <= 0 {
		return maxWidth
	}
	w := int(math.Floor(float64(viewport) * fraction))
	if w > maxWidth {
		return maxWidth
	}
	if w < 1 {
		return 1
	}
	return w
}

// State is one frame of the viewer. PaymentID and URL always belong to the
// same selection.
type State struct {
	Mode        Mode     `json:"mode"`
	PaymentID   int64    `json:"payment_id,omitempty"`
	URL         string   `json:"url,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	NumPages    int      `json:"num_pages,omitempty"`
	CurrentPage int      `json:"current_page,omitempty"`
	Width       int      `json:"width"`
	PanZoom     *PanZoom `json:"pan_zoom,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Viewer renders the receipt selected through its loader.
type Viewer struct {
	loader *receipt.Loader
	reg    *receipt.Registry
	cfg    Config
	log    *slog.Logger
	resize *debounce.Debouncer

	mu       sync.Mutex
	gen      uint64
	state    State
	viewW    int
	viewH    int
	released bool
}

// New creates an empty viewer.
func New(loader *receipt.Loader, reg *receipt.Registry, cfg Config, logger *slog.Logger) *Viewer {
	def := DefaultConfig()
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = def.MaxWidth
	}
	if cfg.WidthFraction <= 0 || cfg.WidthFraction > 1 {
		cfg.WidthFraction = def.WidthFraction
	}
	if cfg.ResizeDebounce <= 0 {
		cfg.ResizeDebounce = def.ResizeDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	v := &Viewer{
		loader: loader,
		reg:    reg,
		cfg:    cfg,
		log:    logger.With("component", "viewer"),
		resize: debounce.New(cfg.ResizeDebounce),
	}
	v.state = v.blankLocked()
	return v
}

// State returns the current frame.
func (v *Viewer) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Open shows payment id. The previous receipt disappears before the
// download starts; a later Open or Close wins over this one.
func (v *Viewer) Open(ctx context.Context, id int64) State {
	v.mu.Lock()
	if v.released {
		st := v.state
		v.mu.Unlock()
		return st
	}
	v.gen++
	gen := v.gen
	v.state = v.blankLocked()
	if id > 0 {
		v.state.Mode = ModeLoading
		v.state.PaymentID = id
	}
	v.mu.Unlock()

	ls, ok := v.loader.Select(ctx, id)
	if !ok {
		v.mu.Lock()
		defer v.mu.Unlock()
		if gen == v.gen && ctx.Err() != nil {
			v.state = v.blankLocked()
		}
		return v.state
	}
	next := v.render(ls)

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return v.state
	}
	v.state = next
	return v.state
}

// Close empties the viewer and releases the receipt URL.
func (v *Viewer) Close() State {
	v.mu.Lock()
	v.gen++
	v.state = v.blankLocked()
	st := v.state
	released := v.released
	v.mu.Unlock()
	if !released {
		v.loader.Select(context.Background(), 0)
	}
	return st
}

// Release closes the viewer for good when its owner goes away.
func (v *Viewer) Release() {
	v.resize.Stop()
	v.mu.Lock()
	v.gen++
	v.released = true
	v.state = v.blankLocked()
	v.mu.Unlock()
	v.loader.Close()
}

// Next moves one page forward; no-op on the last page.
func (v *Viewer) Next() State { return v.page(func(cur int) int { return cur + 1 }) }

// Prev moves one page back; no-op on the first page.
func (v *Viewer) Prev() State { return v.page(func(cur int) int { return cur - 1 }) }

// GoTo jumps to page n, clamped to the document.
func (v *Viewer) GoTo(n int) State { return v.page(func(int) int { return n }) }

func (v *Viewer) page(move func(cur int) int) State {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state.Mode != ModePDF {
		return v.state
	}
	p := move(v.state.CurrentPage)
	v.state.CurrentPage = max(1, min(v.state.NumPages, p))
	return v.state
}

// Transform applies a pan/zoom change to the image being shown.
func (v *Viewer) Transform(fn func(PanZoom) PanZoom) (State, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state.Mode != ModeImage || v.state.PanZoom == nil {
		return v.state, false
	}
	pz := fn(*v.state.PanZoom)
	v.state.PanZoom = &pz
	return v.state, true
}

// Resize records a new viewport. Layout is recomputed once the size has been
// stable for the debounce window.
func (v *Viewer) Resize(width, height int) {
	v.resize.Trigger(func() { v.applyViewport(width, height) })
}

func (v *Viewer) applyViewport(width, height int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.released {
		return
	}
	v.viewW, v.viewH = width, height
	v.state.Width = v.widthLocked()
	if v.state.PanZoom != nil {
		pz := v.state.PanZoom.Resize(v.boxLocked())
		v.state.PanZoom = &pz
	}
	v.log.Debug("viewport applied", "viewport", width, "width", v.state.Width)
}

func (v *Viewer) render(ls receipt.State) State {
	v.mu.Lock()
	st := v.blankLocked()
	boxW, boxH := v.boxLocked()
	v.mu.Unlock()

	st.PaymentID = ls.PaymentID
	switch ls.Phase {
	case receipt.PhaseEmpty:
		st.PaymentID = 0
		return st
	case receipt.PhaseLoading:
		st.Mode = ModeLoading
		return st
	case receipt.PhaseFailed:
		st.Mode, st.Error = ModeError, ls.Err
		return st
	}

	st.URL, st.ContentType = ls.URL, ls.ContentType
	blob, ok := v.reg.Resolve(ls.URL)
	if !ok {
		st.Mode, st.Error = ModeFailed, msgGone
		return st
	}

	switch classify(ls.ContentType) {
	case kindPDF:
		n, err := pageCount(blob.Data)
		if err != nil {
			v.log.Warn("receipt document could not be opened", "payment_id", ls.PaymentID, "error", err)
			st.Mode, st.Error = ModeFailed, msgUnreadable
			return st
		}
		st.Mode, st.NumPages, st.CurrentPage = ModePDF, n, 1
	case kindImage:
		w, h, err := imageSize(blob.Data)
		if err != nil {
			v.log.Warn("receipt image could not be opened", "payment_id", ls.PaymentID, "content_type", ls.ContentType, "error", err)
			st.Mode, st.Error = ModeFailed, msgUnreadable
			return st
		}
		pz := NewPanZoom(w, h, boxW, boxH)
		st.Mode, st.PanZoom = ModeImage, &pz
	default:
		st.Mode, st.Error = ModeUnsupported, msgUnsupported+": "+ls.ContentType
	}
	return st
}

func (v *Viewer) blankLocked() State {
	return State{Mode: ModeEmpty, Width: v.widthLocked()}
}

func (v *Viewer) widthLocked() int {
	return RenderWidth(v.viewW, v.cfg.MaxWidth, v.cfg.WidthFraction)
}

// boxLocked is the pan/zoom viewport: render width by the visible height,
// square when the height is unknown.
func (v *Viewer) boxLocked() (int, int) {
	w := v.widthLocked()
	if v.viewH <= 0 {
		return w, w
	}
	return w, max(1, int(float64(v.viewH)*v.cfg.WidthFraction))
}
