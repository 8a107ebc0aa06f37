package mapcore

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorRenderer renders a session snapshot as vector graphics. Canvas
// units are viewport pixels.
type VectorRenderer struct {
	// Palette supplies status colors for the donut rings
	Palette    *StyleResolver
	Donuts     bool
	RingWidth  float64
	Background color.RGBA
	Resolution canvas.Resolution // PNG pixels per canvas unit (default: 1)
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(palette *StyleResolver) *VectorRenderer {
	return &VectorRenderer{
		Palette:    palette,
		Donuts:     palette != nil,
		RingWidth:  4.0,
		Background: backgroundColor,
		Resolution: canvas.DPMM(1.0),
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the snapshot as an SVG to the provided writer
func (r *VectorRenderer) RenderToSVG(w io.Writer, snap Snapshot) error {
	width, height := float64(snap.View.Width), float64(snap.View.Height)

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, snap, width, height)

	// Close writes the closing tags
	return svgRenderer.Close()
}

// RenderToPNG writes the snapshot as a PNG to the provided writer
func (r *VectorRenderer) RenderToPNG(w io.Writer, snap Snapshot) error {
	width, height := float64(snap.View.Width), float64(snap.View.Height)

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, snap, width, height)

	return png.Encode(w, rast)
}

// renderToCanvas draws the background and markers (shared logic for SVG and PNG)
func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, snap Snapshot, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: r.Background}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// Canvas y grows upward; viewport y grows downward.
	toCanvas := func(px Pixel) (float64, float64) {
		return px.X, height - px.Y
	}

	for _, m := range snap.Markers {
		cx, cy := toCanvas(m.Pixel)

		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: parseHexColor(m.Style.FillColor)}
		style.Stroke = canvas.Paint{Color: parseHexColor(m.Style.StrokeColor)}
		style.StrokeWidth = m.Style.StrokeWidth

		renderer.RenderPath(canvas.Circle(m.Style.Radius).Translate(cx, cy), style, canvas.Identity)

		if r.Donuts && r.Palette != nil && !m.Cluster.IsSingleton() {
			r.renderDonut(renderer, cx, cy, m.Style.Radius, r.Palette.Breakdown(m.Cluster))
		}
	}
	// Text is skipped: SVG text needs embedded fonts. Labels are drawn by
	// the raster renderer.
}

// renderDonut draws one ring sector per status share around a marker,
// starting at twelve o'clock and going clockwise
func (r *VectorRenderer) renderDonut(renderer canvasRenderer, cx, cy, radius float64, shares []StatusShare) {
	inner := radius + 1
	outer := inner + r.RingWidth

	start := math.Pi / 2
	for _, s := range shares {
		sweep := 2 * math.Pi * s.Share
		if sweep <= 0 {
			continue
		}

		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: parseHexColor(s.Color)}
		style.Stroke = canvas.Paint{Color: canvas.Transparent}

		renderer.RenderPath(ringSector(cx, cy, inner, outer, start, start-sweep), style, canvas.Identity)
		start -= sweep
	}
}

// ringSector approximates an annular sector between angles a0 and a1
// (radians, counter-clockwise from east) with line segments
func ringSector(cx, cy, inner, outer, a0, a1 float64) *canvas.Path {
	steps := int(math.Ceil(math.Abs(a1-a0) / (math.Pi / 32)))
	if steps < 2 {
		steps = 2
	}

	p := &canvas.Path{}
	for i := 0; i <= steps; i++ {
		a := a0 + (a1-a0)*float64(i)/float64(steps)
		x, y := cx+outer*math.Cos(a), cy+outer*math.Sin(a)
		if i == 0 {
			p.MoveTo(x, y)
		} else {
			p.LineTo(x, y)
		}
	}
	for i := steps; i >= 0; i-- {
		a := a0 + (a1-a0)*float64(i)/float64(steps)
		p.LineTo(cx+inner*math.Cos(a), cy+inner*math.Sin(a))
	}
	p.Close()
	return p
}
