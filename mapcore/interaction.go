package mapcore

import (
	"fmt"
	"html"
	"strings"

	"github.com/paulmach/orb"
)

// Popup wording
const (
	UnnamedPlaceholder = "(senza nome)"
	ZoomHint           = "Aumenta lo zoom per vedere i dettagli."
	linkText           = "Fonte"
)

// statusMessages holds the popup sentence for each defined status
var statusMessages = map[Status]string{
	StatusNoData:            "Nessun dato disponibile per questo comune.",
	StatusInterested:        "Il comune ha manifestato interesse.",
	StatusScheduledUnmarked: "L'avvio è programmato.",
	StatusActive:            "Il servizio è stato avviato.",
}

// StatusMessage returns the popup sentence for a status. Unknown statuses
// have no message.
func StatusMessage(s Status) (string, bool) {
	m, ok := statusMessages[s]
	return m, ok
}

// PopupContent is what the overlay shows for a clicked cluster
type PopupContent struct {
	ClusterID string `json:"clusterId"`
	Count     int    `json:"count"`

	// singleton
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
	Link    string `json:"link,omitempty"`

	// multi-member
	Names []string `json:"names,omitempty"`
	Hint  string   `json:"hint,omitempty"`
}

// BuildPopup builds popup content for a cluster. It never fails: missing
// names become a placeholder and unknown statuses produce no message.
func BuildPopup(c *Cluster) *PopupContent {
	p := &PopupContent{ClusterID: c.ID, Count: c.Size()}

	if c.IsSingleton() {
		f := c.Members[0]
		p.Title = displayName(f)
		p.Message, _ = StatusMessage(f.Status)
		p.Link = f.SourceURL
		return p
	}

	p.Names = make([]string, 0, len(c.Members))
	for _, f := range c.Members {
		p.Names = append(p.Names, displayName(f))
	}
	p.Title = fmt.Sprintf("%d comuni", p.Count)
	p.Hint = ZoomHint
	return p
}

func displayName(f *Feature) string {
	if f == nil || strings.TrimSpace(f.Name) == "" {
		return UnnamedPlaceholder
	}
	return f.Name
}

// HTML renders the content as an HTML fragment with all text escaped
func (p *PopupContent) HTML() string {
	var b strings.Builder
	b.WriteString(`<div class="popup">`)
	fmt.Fprintf(&b, "<h3>%s</h3>", html.EscapeString(p.Title))

	if len(p.Names) > 0 {
		b.WriteString("<ul>")
		for _, n := range p.Names {
			fmt.Fprintf(&b, "<li>%s</li>", html.EscapeString(n))
		}
		b.WriteString("</ul>")
		fmt.Fprintf(&b, `<p class="hint">%s</p>`, html.EscapeString(p.Hint))
	} else {
		if p.Message != "" {
			fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(p.Message))
		}
		if p.Link != "" {
			fmt.Fprintf(&b, `<a href="%s" target="_blank" rel="noopener">%s</a>`, html.EscapeString(p.Link), linkText)
		}
	}

	b.WriteString("</div>")
	return b.String()
}

// Lines renders the content as plain text lines for raster output
func (p *PopupContent) Lines() []string {
	lines := []string{p.Title}
	if len(p.Names) > 0 {
		for _, n := range p.Names {
			lines = append(lines, "- "+n)
		}
		return append(lines, p.Hint)
	}
	if p.Message != "" {
		lines = append(lines, p.Message)
	}
	if p.Link != "" {
		lines = append(lines, p.Link)
	}
	return lines
}

// OverlayState is the popup overlay: hidden, or visible at a map
// coordinate with content.
type OverlayState struct {
	Visible  bool          `json:"visible"`
	Position *orb.Point    `json:"position,omitempty"`
	Content  *PopupContent `json:"content,omitempty"`
}

// Controller turns pointer input into cursor feedback and overlay
// transitions. It is not safe for concurrent use; the session owns it.
type Controller struct {
	hits    HitTester
	cursor  CursorSink
	current CursorKind
	overlay OverlayState
}

// NewController creates a controller with a hidden overlay. cursor may be nil.
func NewController(cursor CursorSink) *Controller {
	return &Controller{cursor: cursor, current: CursorDefault}
}

// SetLayer replaces the hit-test target after a recluster or pan
func (c *Controller) SetLayer(h HitTester) {
	c.hits = h
}

func (c *Controller) hitTest(px Pixel) (*Cluster, bool) {
	if c.hits == nil {
		return nil, false
	}
	return c.hits.HitTest(px)
}

// OnPointerMove sets the cursor to the interactive affordance over a
// cluster and the default one elsewhere. The overlay is not touched.
func (c *Controller) OnPointerMove(px Pixel) CursorKind {
	kind := CursorDefault
	if _, ok := c.hitTest(px); ok {
		kind = CursorInteractive
	}
	c.current = kind
	if c.cursor != nil {
		c.cursor.SetCursor(kind)
	}
	return kind
}

// OnClick hides the overlay on empty space, or shows the popup for the hit
// cluster at coord.
func (c *Controller) OnClick(px Pixel, coord orb.Point) OverlayState {
	cl, ok := c.hitTest(px)
	if !ok {
		clicks.WithLabelValues("empty").Inc()
		c.overlay = OverlayState{}
		return c.overlay
	}

	if cl.IsSingleton() {
		clicks.WithLabelValues("singleton").Inc()
	} else {
		clicks.WithLabelValues("cluster").Inc()
	}

	pos := coord
	c.overlay = OverlayState{Visible: true, Position: &pos, Content: BuildPopup(cl)}
	return c.overlay
}

// Hide closes the overlay
func (c *Controller) Hide() {
	c.overlay = OverlayState{}
}

// Overlay returns the current overlay state
func (c *Controller) Overlay() OverlayState {
	return c.overlay
}

// Cursor returns the last cursor set by OnPointerMove
func (c *Controller) Cursor() CursorKind {
	return c.current
}
