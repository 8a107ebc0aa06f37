package mapcore

import (
	"bytes"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdewolff/canvas"
)

// pathCounter counts the paths handed to a canvas renderer
type pathCounter struct{ n int }

func (c *pathCounter) RenderPath(*canvas.Path, canvas.Style, canvas.Matrix) { c.n++ }

func donutFixture() (View, Snapshot) {
	v := View{Center: orb.Point{0, 0}, Zoom: 12, Width: 200, Height: 200}
	c := &Cluster{ID: "g", Centroid: v.ToMap(Pixel{100, 100}), Members: []*Feature{
		{Status: StatusActive}, {Status: StatusActive}, {Status: StatusActive}, {Status: StatusInterested},
	}}
	return v, snapshotOf(v, c)
}

func assertColorNear(t *testing.T, want color.RGBA, got color.RGBA, msg string) {
	t.Helper()
	for i, pair := range [][2]uint8{{want.R, got.R}, {want.G, got.G}, {want.B, got.B}} {
		assert.InDelta(t, float64(pair[0]), float64(pair[1]), 3, "%s: channel %d (got %v)", msg, i, got)
	}
}

func TestVectorRenderer_SVG(t *testing.T) {
	_, snap := donutFixture()

	var buf bytes.Buffer
	require.NoError(t, NewVectorRenderer(NewStyleResolver(StyleConfig{})).RenderToSVG(&buf, snap))

	out := buf.String()
	assert.Contains(t, out, "<svg")
	assert.Contains(t, out, "</svg>")
	assert.GreaterOrEqual(t, strings.Count(out, "<path"), 4, "background, marker and two ring sectors")
}

func TestVectorRenderer_PNGSizeMatchesView(t *testing.T) {
	v, snap := donutFixture()

	var buf bytes.Buffer
	require.NoError(t, NewVectorRenderer(nil).RenderToPNG(&buf, snap))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, v.Width, img.Bounds().Dx())
	assert.Equal(t, v.Height, img.Bounds().Dy())
}

func TestVectorRenderer_DonutShares(t *testing.T) {
	_, snap := donutFixture()
	r := NewVectorRenderer(NewStyleResolver(StyleConfig{}))

	var buf bytes.Buffer
	require.NoError(t, r.RenderToPNG(&buf, snap))
	img, err := png.Decode(&buf)
	require.NoError(t, err)

	// four members: radius 14 marker, ring from 15 to 19 px
	assertColorNear(t, parseHexColor(DefaultClusterColor), rgbaAt(img, 100, 100), "marker fill")
	assertColorNear(t, parseHexColor(DefaultStatusColors[StatusActive]), rgbaAt(img, 117, 100), "three o'clock is in the active share")
	assertColorNear(t, parseHexColor(DefaultStatusColors[StatusActive]), rgbaAt(img, 100, 117), "six o'clock is in the active share")
	assertColorNear(t, parseHexColor(DefaultStatusColors[StatusInterested]), rgbaAt(img, 87, 87), "the last quarter is interested")
	assertColorNear(t, backgroundColor, rgbaAt(img, 100, 100-25), "outside the ring")
}

func TestVectorRenderer_PathCounts(t *testing.T) {
	v, snap := donutFixture()
	width, height := float64(v.Width), float64(v.Height)

	withDonuts := NewVectorRenderer(NewStyleResolver(StyleConfig{}))
	c := &pathCounter{}
	withDonuts.renderToCanvas(c, snap, width, height)
	assert.Equal(t, 4, c.n, "background, marker, two sectors")

	plain := NewVectorRenderer(nil)
	assert.False(t, plain.Donuts)
	c = &pathCounter{}
	plain.renderToCanvas(c, snap, width, height)
	assert.Equal(t, 2, c.n)

	single := snapshotOf(v, &Cluster{ID: "s", Centroid: orb.Point{0, 0}, Members: []*Feature{{Status: StatusActive}}})
	c = &pathCounter{}
	withDonuts.renderToCanvas(c, single, width, height)
	assert.Equal(t, 2, c.n, "singletons get no ring")
}

func TestRingSector(t *testing.T) {
	p := ringSector(0, 0, 10, 14, 0, -1.5)
	require.NotNil(t, p)
	assert.False(t, p.Empty())

	// a tiny sweep still produces a closed shape
	assert.False(t, ringSector(5, 5, 1, 2, 0, 1e-6).Empty())
}
