package mapcore

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// MaxResolution is the EPSG:3857 resolution at zoom 0 for 256px tiles
	MaxResolution = 156543.03392804097

	MinZoom = 0.0
	MaxZoom = 28.0

	DefaultZoom   = 6.0
	DefaultWidth  = 1024
	DefaultHeight = 768
)

// DefaultCenter is the initial map center (EPSG:3857), over Italy
var DefaultCenter = orb.Point{1388626, 5145039}

// Pixel is a position in viewport pixels, origin top-left, y down
type Pixel struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// View is the visible map window. Values are immutable; the mutators
// return a modified copy.
type View struct {
	Center orb.Point `json:"center"`
	Zoom   float64   `json:"zoom"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
}

// NewView builds a view from config, filling unset fields with defaults
func NewView(cfg ViewConfig) View {
	v := View{
		Center: orb.Point{cfg.Center[0], cfg.Center[1]},
		Zoom:   cfg.Zoom,
		Width:  cfg.Width,
		Height: cfg.Height,
	}
	if v.Center == (orb.Point{}) {
		v.Center = DefaultCenter
	}
	if v.Zoom == 0 {
		v.Zoom = DefaultZoom
	}
	if v.Width <= 0 {
		v.Width = DefaultWidth
	}
	if v.Height <= 0 {
		v.Height = DefaultHeight
	}
	return v.WithZoom(v.Zoom)
}

// ResolutionForZoom returns map units per pixel at a zoom level
func ResolutionForZoom(zoom float64) float64 {
	return MaxResolution / math.Pow(2, zoom)
}

// Resolution returns map units per pixel
func (v View) Resolution() float64 {
	return ResolutionForZoom(v.Zoom)
}

// ToPixel converts a map coordinate to a viewport pixel
func (v View) ToPixel(p orb.Point) Pixel {
	res := v.Resolution()
	return Pixel{
		X: (p[0]-v.Center[0])/res + float64(v.Width)/2,
		Y: (v.Center[1]-p[1])/res + float64(v.Height)/2,
	}
}

// ToMap converts a viewport pixel to a map coordinate
func (v View) ToMap(px Pixel) orb.Point {
	res := v.Resolution()
	return orb.Point{
		v.Center[0] + (px.X-float64(v.Width)/2)*res,
		v.Center[1] - (px.Y-float64(v.Height)/2)*res,
	}
}

// Extent returns the map bounds covered by the view
func (v View) Extent() orb.Bound {
	tl := v.ToMap(Pixel{0, 0})
	br := v.ToMap(Pixel{float64(v.Width), float64(v.Height)})
	return orb.Bound{
		Min: orb.Point{tl[0], br[1]},
		Max: orb.Point{br[0], tl[1]},
	}
}

// Pan moves the view by a pixel drag. Dragging right (dx > 0) moves the
// content right, so the center moves left.
func (v View) Pan(dx, dy float64) View {
	res := v.Resolution()
	v.Center = orb.Point{v.Center[0] - dx*res, v.Center[1] + dy*res}
	return v
}

// PanTo recenters the view
func (v View) PanTo(center orb.Point) View {
	v.Center = center
	return v
}

// WithZoom returns the view at a zoom level clamped to [MinZoom, MaxZoom]
func (v View) WithZoom(zoom float64) View {
	if math.IsNaN(zoom) {
		return v
	}
	v.Zoom = math.Max(MinZoom, math.Min(MaxZoom, zoom))
	return v
}

// WithSize returns the view resized to width x height pixels
func (v View) WithSize(width, height int) View {
	if width > 0 {
		v.Width = width
	}
	if height > 0 {
		v.Height = height
	}
	return v
}
