package mapcore

import (
	"math"

	"github.com/dhconnelly/rtreego"
)

// HitTolerance is the slack in pixels around a marker circle that still
// counts as a hit
const HitTolerance = 1.0

// HitTester finds the cluster drawn under a viewport pixel
type HitTester interface {
	HitTest(px Pixel) (*Cluster, bool)
}

// CursorSink receives cursor feedback
type CursorSink interface {
	SetCursor(kind CursorKind)
}

// Marker is a cluster placed on screen with its resolved style
type Marker struct {
	Cluster *Cluster
	Style   *Style
	Label   string
	Pixel   Pixel
	order   int
}

// Bounds implements rtreego.Spatial
func (m *Marker) Bounds() rtreego.Rect {
	return rtreego.Point{m.Pixel.X, m.Pixel.Y}.ToRect(m.Style.Radius + HitTolerance)
}

// contains reports whether px falls within the marker circle
func (m *Marker) contains(px Pixel) bool {
	return math.Hypot(px.X-m.Pixel.X, px.Y-m.Pixel.Y) <= m.Style.Radius+HitTolerance
}

// ClusterLayer is the rendered cluster set for one view, indexed by pixel
// bounds. Markers are kept in paint order: later markers are drawn on top.
type ClusterLayer struct {
	view    View
	placed  []*Marker // every cluster, culled or not
	markers []*Marker
	tree    *rtreego.Rtree
}

// NewClusterLayer places clusters in view and resolves their styles.
// Markers entirely outside the viewport are culled.
func NewClusterLayer(clusters []*Cluster, styles *StyleResolver, view View) *ClusterLayer {
	markers := make([]*Marker, 0, len(clusters))
	for _, c := range clusters {
		markers = append(markers, &Marker{
			Cluster: c,
			Style:   styles.StyleFor(c),
			Label:   styles.Label(c),
		})
	}
	return placeMarkers(markers, view)
}

// Reproject returns the same markers placed for a new view. Styles are
// reused; nothing is reclustered.
func (l *ClusterLayer) Reproject(view View) *ClusterLayer {
	all := make([]*Marker, len(l.placed))
	for i, m := range l.placed {
		cp := *m
		all[i] = &cp
	}
	return placeMarkers(all, view)
}

func placeMarkers(markers []*Marker, view View) *ClusterLayer {
	w, h := float64(view.Width), float64(view.Height)
	visible := make([]*Marker, 0, len(markers))
	spatials := make([]rtreego.Spatial, 0, len(markers))

	for _, m := range markers {
		m.Pixel = view.ToPixel(m.Cluster.Centroid)
		r := m.Style.Radius
		if m.Pixel.X+r < 0 || m.Pixel.Y+r < 0 || m.Pixel.X-r > w || m.Pixel.Y-r > h {
			continue
		}
		m.order = len(visible)
		visible = append(visible, m)
		spatials = append(spatials, m)
	}

	return &ClusterLayer{
		view:    view,
		placed:  markers,
		markers: visible,
		tree:    rtreego.NewTree(2, 25, 50, spatials...),
	}
}

// View returns the view the layer was placed for
func (l *ClusterLayer) View() View {
	return l.view
}

// Markers returns the visible markers in paint order
func (l *ClusterLayer) Markers() []*Marker {
	return l.markers
}

// Placed returns the markers of every cluster, including culled ones
func (l *ClusterLayer) Placed() []*Marker {
	return l.placed
}

// HitTest returns the top-most cluster whose marker contains px
func (l *ClusterLayer) HitTest(px Pixel) (*Cluster, bool) {
	if l == nil || len(l.markers) == 0 {
		return nil, false
	}

	var top *Marker
	for _, s := range l.tree.SearchIntersect(rtreego.Point{px.X, px.Y}.ToRect(HitTolerance)) {
		m := s.(*Marker)
		if !m.contains(px) {
			continue
		}
		if top == nil || m.order > top.order {
			top = m
		}
	}
	if top == nil {
		return nil, false
	}
	return top.Cluster, true
}
