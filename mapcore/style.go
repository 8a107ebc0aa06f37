package mapcore

import (
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Default marker geometry in pixels
const (
	DefaultSingletonRadius   = 8.0
	DefaultClusterBaseRadius = 10.0
	DefaultStrokeWidth       = 1.5
)

// Default palette
const (
	DefaultClusterColor  = "#3399CC"
	DefaultFallbackColor = "#BDBDBD"
	DefaultStrokeColor   = "#FFFFFF"
	DefaultTextColor     = "#FFFFFF"
)

// DefaultStatusColors maps each defined status to its fill color
var DefaultStatusColors = map[Status]string{
	StatusNoData:            "#FF0000",
	StatusInterested:        "#FFA500",
	StatusScheduledUnmarked: "#800080",
	StatusActive:            "#008000",
}

// StyleKey is the signature of a cluster's renderable attributes.
// Status is set only for singletons.
type StyleKey struct {
	Count  int
	Status Status
}

// KeyFor computes the style key of a cluster
func KeyFor(c *Cluster) StyleKey {
	k := StyleKey{Count: c.Size()}
	if c.IsSingleton() {
		k.Status = c.Members[0].Status
	}
	return k
}

// Style is a resolved marker style. Cached values are shared between
// clusters and must not be modified.
type Style struct {
	Radius      float64 `json:"radius"`
	FillColor   string  `json:"fill"`
	StrokeColor string  `json:"stroke"`
	StrokeWidth float64 `json:"strokeWidth"`
	TextColor   string  `json:"textColor"`
	// Label is the member count for multi-member clusters. Singletons take
	// their label from the feature; see StyleResolver.Label.
	Label string `json:"label,omitempty"`
}

// StyleResolver maps clusters to styles through a cache keyed by StyleKey.
// It is not safe for concurrent use; the session owns it.
type StyleResolver struct {
	singletonRadius   float64
	clusterBaseRadius float64
	maxClusterRadius  float64
	statusColors      map[Status]string
	clusterColor      string
	fallbackColor     string

	cache  map[StyleKey]*Style
	hits   int
	misses int
}

// NewStyleResolver builds a resolver from config, filling unset values
// with the defaults. Invalid colors are logged and ignored.
func NewStyleResolver(cfg StyleConfig) *StyleResolver {
	r := &StyleResolver{
		singletonRadius:   cfg.SingletonRadius,
		clusterBaseRadius: cfg.ClusterBaseRadius,
		maxClusterRadius:  cfg.MaxClusterRadius,
		statusColors:      make(map[Status]string, len(DefaultStatusColors)),
		clusterColor:      DefaultClusterColor,
		fallbackColor:     DefaultFallbackColor,
		cache:             make(map[StyleKey]*Style),
	}
	if r.singletonRadius <= 0 {
		r.singletonRadius = DefaultSingletonRadius
	}
	if r.clusterBaseRadius <= 0 {
		r.clusterBaseRadius = DefaultClusterBaseRadius
	}
	if r.maxClusterRadius < 0 {
		r.maxClusterRadius = 0
	}

	for s, c := range DefaultStatusColors {
		r.statusColors[s] = c
	}
	for raw, c := range cfg.StatusColors {
		s := ParseStatus(raw)
		if !s.Known() {
			log.Printf("Warning: style: ignoring color for unknown status %q", raw)
			continue
		}
		if !validHexColor(c) {
			log.Printf("Warning: style: invalid color %q for status %s", c, s)
			continue
		}
		r.statusColors[s] = c
	}
	if validHexColor(cfg.ClusterColor) {
		r.clusterColor = cfg.ClusterColor
	}
	if validHexColor(cfg.FallbackColor) {
		r.fallbackColor = cfg.FallbackColor
	}
	return r
}

// StyleFor returns the style for a cluster, building and caching it on a miss.
func (r *StyleResolver) StyleFor(c *Cluster) *Style {
	key := KeyFor(c)
	if st, ok := r.cache[key]; ok {
		r.hits++
		styleCacheLookups.WithLabelValues("hit").Inc()
		return st
	}

	st := r.build(key)
	r.cache[key] = st
	r.misses++
	styleCacheLookups.WithLabelValues("miss").Inc()
	return st
}

func (r *StyleResolver) build(key StyleKey) *Style {
	st := &Style{
		StrokeColor: DefaultStrokeColor,
		StrokeWidth: DefaultStrokeWidth,
		TextColor:   DefaultTextColor,
	}
	if key.Count <= 1 {
		st.Radius = r.singletonRadius
		st.FillColor = r.StatusColor(key.Status)
		return st
	}

	st.Radius = r.clusterBaseRadius + float64(key.Count)
	if r.maxClusterRadius > 0 {
		st.Radius = math.Min(st.Radius, r.maxClusterRadius)
	}
	st.FillColor = r.clusterColor
	st.Label = strconv.Itoa(key.Count)
	return st
}

// StatusColor returns the fill color for a status. Unknown statuses get the
// fallback color.
func (r *StyleResolver) StatusColor(s Status) string {
	if c, ok := r.statusColors[s]; ok {
		return c
	}
	return r.fallbackColor
}

// FallbackColor returns the color used for unrecognized statuses
func (r *StyleResolver) FallbackColor() string {
	return r.fallbackColor
}

// Label returns the marker label: the display name for a singleton (the
// popup placeholder when blank), the member count otherwise.
func (r *StyleResolver) Label(c *Cluster) string {
	if c.IsSingleton() {
		return displayName(c.Members[0])
	}
	return r.StyleFor(c).Label
}

// Invalidate clears the cache. Called after every clustering pass.
func (r *StyleResolver) Invalidate() {
	clear(r.cache)
}

// CacheLen returns the number of cached styles
func (r *StyleResolver) CacheLen() int {
	return len(r.cache)
}

// Stats returns cache hit and miss counts since creation
func (r *StyleResolver) Stats() (hits, misses int) {
	return r.hits, r.misses
}

// StatusShare is the fraction of a cluster's members with one status
type StatusShare struct {
	Status Status  `json:"status"`
	Count  int     `json:"count"`
	Color  string  `json:"color"`
	Share  float64 `json:"share"`
}

// Breakdown returns the status distribution of a cluster, largest share
// first, for donut rings around multi-member markers. Ties keep the
// KnownStatuses order; unknown statuses are pooled last under the fallback color.
// Breakdown does not touch the cache and may be called from any goroutine.
func (r *StyleResolver) Breakdown(c *Cluster) []StatusShare {
	if c.Size() == 0 {
		return nil
	}

	counts := make(map[Status]int, len(KnownStatuses))
	other := 0
	for _, m := range c.Members {
		if m.Status.Known() {
			counts[m.Status]++
		} else {
			other++
		}
	}

	total := float64(c.Size())
	var shares []StatusShare
	for _, s := range KnownStatuses {
		if n := counts[s]; n > 0 {
			shares = append(shares, StatusShare{Status: s, Count: n, Color: r.StatusColor(s), Share: float64(n) / total})
		}
	}
	sort.SliceStable(shares, func(i, j int) bool {
		return shares[i].Count > shares[j].Count
	})
	if other > 0 {
		shares = append(shares, StatusShare{Count: other, Color: r.fallbackColor, Share: float64(other) / total})
	}
	return shares
}

// validHexColor accepts #RGB, #RRGGBB and #RRGGBBAA
func validHexColor(s string) bool {
	s = strings.TrimPrefix(s, "#")
	switch len(s) {
	case 3, 6, 8:
	default:
		return false
	}
	_, err := strconv.ParseUint(s, 16, 64)
	return err == nil
}
