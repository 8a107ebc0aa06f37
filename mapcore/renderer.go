package mapcore

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	glyphWidth   = 7
	glyphHeight  = 13
	popupPadding = 6
	popupOffset  = 12 // gap between the anchor and the popup box
)

var (
	backgroundColor = color.RGBA{242, 239, 233, 255}
	popupFill       = color.RGBA{255, 255, 255, 255}
	popupBorder     = color.RGBA{80, 80, 80, 255}
	labelColor      = color.RGBA{33, 33, 33, 255}
)

// RasterRenderer paints a session snapshot into an RGBA image
type RasterRenderer struct {
	Background color.RGBA
	// Labels draws feature names next to singleton markers
	Labels bool
}

// NewRasterRenderer creates a renderer with default settings
func NewRasterRenderer() *RasterRenderer {
	return &RasterRenderer{Background: backgroundColor, Labels: true}
}

// Render paints markers in paint order and, when visible, the popup
func (r *RasterRenderer) Render(snap Snapshot) *image.RGBA {
	w, h := snap.View.Width, snap.View.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fillRect(img, img.Bounds(), r.Background)

	for _, m := range snap.Markers {
		cx, cy := int(math.Round(m.Pixel.X)), int(math.Round(m.Pixel.Y))
		radius := int(math.Round(m.Style.Radius))
		stroke := int(math.Ceil(m.Style.StrokeWidth))

		drawCircle(img, cx, cy, radius+stroke, parseHexColor(m.Style.StrokeColor))
		drawCircle(img, cx, cy, radius, parseHexColor(m.Style.FillColor))

		if m.Cluster.IsSingleton() {
			if r.Labels && m.Label != "" {
				drawText(img, cx+radius+stroke+3, cy+glyphHeight/2-2, m.Label, labelColor)
			}
			continue
		}
		tw := len([]rune(m.Label)) * glyphWidth
		drawText(img, cx-tw/2, cy+glyphHeight/2-2, m.Label, parseHexColor(m.Style.TextColor))
	}

	if snap.Overlay.Visible && snap.Overlay.Position != nil && snap.Overlay.Content != nil {
		drawPopup(img, snap.View.ToPixel(*snap.Overlay.Position), snap.Overlay.Content.Lines())
	}
	return img
}

// RenderPNG writes the rendered snapshot as PNG
func (r *RasterRenderer) RenderPNG(w io.Writer, snap Snapshot) error {
	return png.Encode(w, r.Render(snap))
}

// SavePNG renders the snapshot to a file
func (r *RasterRenderer) SavePNG(path string, snap Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return r.RenderPNG(f, snap)
}

// drawPopup draws a text box centered above the anchor pixel, shifted to
// stay inside the image
func drawPopup(img *image.RGBA, anchor Pixel, lines []string) {
	longest := 0
	for _, l := range lines {
		if n := len([]rune(l)); n > longest {
			longest = n
		}
	}
	bw := longest*glyphWidth + 2*popupPadding
	bh := len(lines)*glyphHeight + 2*popupPadding

	x0 := int(anchor.X) - bw/2
	y0 := int(anchor.Y) - popupOffset - bh
	b := img.Bounds()
	x0 = max(b.Min.X, min(x0, b.Max.X-bw))
	if y0 < b.Min.Y {
		y0 = int(anchor.Y) + popupOffset
	}

	box := image.Rect(x0, y0, x0+bw, y0+bh)
	fillRect(img, box, popupBorder)
	fillRect(img, box.Inset(1), popupFill)

	for i, l := range lines {
		drawText(img, x0+popupPadding, y0+popupPadding+(i+1)*glyphHeight-3, l, labelColor)
	}
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
					img.Set(x, y, c)
				}
			}
		}
	}
}

func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses #RGB, #RRGGBB or #RRGGBBAA. Invalid input yields
// the fallback grey.
func parseHexColor(hex string) color.RGBA {
	fallback := color.RGBA{189, 189, 189, 255}

	hex = strings.TrimPrefix(hex, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return fallback
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return fallback
	}
	nc := color.NRGBA{uint8(v >> 24), uint8(v >> 16), uint8(v >> 8), uint8(v)}
	return color.RGBAModel.Convert(nc).(color.RGBA)
}
