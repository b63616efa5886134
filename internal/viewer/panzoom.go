package viewer

import "math"

// Zoom bounds, relative to the fitted scale.
const (
	MinZoom  = 1.0
	MaxZoom  = 8.0
	ZoomStep = 0.25
)

// PanZoom is the transform of an image inside its viewport. Scale is the
// effective pixel scale; Zoom is Scale relative to Fit.
type PanZoom struct {
	ImageWidth  int     `json:"image_width"`
	ImageHeight int     `json:"image_height"`
	BoxWidth    int     `json:"box_width"`
	BoxHeight   int     `json:"box_height"`
	Fit         float64 `json:"fit"`
	Zoom        float64 `json:"zoom"`
	Scale       float64 `json:"scale"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
}

// NewPanZoom fits the image inside the box without upscaling and centres it.
func NewPanZoom(imgW, imgH, boxW, boxH int) PanZoom {
	p := PanZoom{ImageWidth: imgW, ImageHeight: imgH, Zoom: MinZoom}
	return p.Resize(boxW, boxH)
}

// Resize refits to a new box, keeping the zoom level.
func (p PanZoom) Resize(boxW, boxH int) PanZoom {
	p.BoxWidth, p.BoxHeight = boxW, boxH
	p.Fit = 1
	if p.ImageWidth > 0 && p.ImageHeight > 0 && boxW > 0 && boxH > 0 {
		p.Fit = math.Min(1, math.Min(float64(boxW)/float64(p.ImageWidth), float64(boxH)/float64(p.ImageHeight)))
	}
	return p.apply()
}

// ZoomBy multiplies the zoom by factor, clamped to [MinZoom, MaxZoom].
func (p PanZoom) ZoomBy(factor float64) PanZoom {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return p
	}
	p.Zoom *= factor
	return p.apply()
}

func (p PanZoom) ZoomIn() PanZoom  { return p.ZoomBy(1 + ZoomStep) }
func (p PanZoom) ZoomOut() PanZoom { return p.ZoomBy(1 / (1 + ZoomStep)) }

// Pan moves the image; it cannot be dragged past its own edges.
func (p PanZoom) Pan(dx, dy float64) PanZoom {
	if math.IsNaN(dx) || math.IsNaN(dy) {
		return p
	}
	p.X += dx
	p.Y += dy
	return p.apply()
}

// Reset goes back to the fitted, centred view.
func (p PanZoom) Reset() PanZoom {
	p.Zoom, p.X, p.Y = MinZoom, 0, 0
	return p.apply()
}

func (p PanZoom) apply() PanZoom {
	p.Zoom = math.Max(MinZoom, math.Min(MaxZoom, p.Zoom))
	p.Scale = p.Fit * p.Zoom
	maxX := math.Max(0, (float64(p.ImageWidth)*p.Scale-float64(p.BoxWidth))/2)
	maxY := math.Max(0, (float64(p.ImageHeight)*p.Scale-float64(p.BoxHeight))/2)
	p.X = math.Max(-maxX, math.Min(maxX, p.X))
	p.Y = math.Max(-maxY, math.Min(maxY, p.Y))
	return p
}
