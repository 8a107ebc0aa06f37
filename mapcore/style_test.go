package mapcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleton(name string, status Status) *Cluster {
	f := &Feature{ID: name, Name: name, Status: status}
	return &Cluster{ID: "c." + name, Centroid: f.Coord, Members: []*Feature{f}}
}

func multi(statuses ...Status) *Cluster {
	c := &Cluster{ID: "multi"}
	for i, s := range statuses {
		c.Members = append(c.Members, &Feature{ID: string(rune('a' + i)), Name: string(rune('A' + i)), Status: s})
	}
	return c
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, StyleKey{Count: 1, Status: StatusActive}, KeyFor(singleton("a", StatusActive)))
	assert.Equal(t, StyleKey{Count: 3}, KeyFor(multi(StatusActive, StatusNoData, StatusActive)))
}

func TestStyleFor_Memoization(t *testing.T) {
	r := NewStyleResolver(StyleConfig{})

	a := r.StyleFor(singleton("Comune A", StatusActive))
	b := r.StyleFor(singleton("Comune B", StatusActive))
	assert.Same(t, a, b, "equal keys must share the cached style")

	c := r.StyleFor(singleton("Comune C", StatusInterested))
	assert.NotSame(t, a, c)

	m1 := r.StyleFor(multi(StatusActive, StatusActive))
	m2 := r.StyleFor(multi(StatusNoData, StatusInterested))
	assert.Same(t, m1, m2, "multi-member key ignores statuses")

	hits, misses := r.Stats()
	assert.Equal(t, 2, hits)
	assert.Equal(t, 3, misses)
	assert.Equal(t, 3, r.CacheLen())
}

func TestStyleFor_InvalidateRebuildsEqualValue(t *testing.T) {
	r := NewStyleResolver(StyleConfig{})
	before := r.StyleFor(singleton("a", StatusActive))

	r.Invalidate()
	assert.Equal(t, 0, r.CacheLen())

	after := r.StyleFor(singleton("a", StatusActive))
	assert.Equal(t, *before, *after)
}

func TestStyleFor_SingletonColors(t *testing.T) {
	r := NewStyleResolver(StyleConfig{})

	for _, s := range KnownStatuses {
		st := r.StyleFor(singleton("x", s))
		assert.Equal(t, DefaultStatusColors[s], st.FillColor, "status %s", s)
		assert.NotEqual(t, DefaultFallbackColor, st.FillColor)
		assert.Equal(t, DefaultSingletonRadius, st.Radius)
		assert.Empty(t, st.Label)
	}

	for _, raw := range []string{"sconosciuto", "???", "ACTIVE!"} {
		st := r.StyleFor(singleton("x", ParseStatus(raw)))
		assert.Equal(t, DefaultFallbackColor, st.FillColor, "status %q", raw)
	}
}

func TestStyleFor_MultiMember(t *testing.T) {
	r := NewStyleResolver(StyleConfig{})

	prev := 0.0
	for n := 2; n <= 200; n += 33 {
		statuses := make([]Status, n)
		for i := range statuses {
			statuses[i] = StatusActive
		}
		st := r.StyleFor(multi(statuses...))
		assert.Equal(t, DefaultClusterBaseRadius+float64(n), st.Radius)
		assert.Greater(t, st.Radius, prev)
		assert.Equal(t, DefaultClusterColor, st.FillColor)
		prev = st.Radius
	}

	c := multi(StatusActive, StatusActive, StatusNoData)
	assert.Equal(t, "3", r.StyleFor(c).Label)
	assert.Equal(t, "3", r.Label(c))
	for _, color := range DefaultStatusColors {
		assert.NotEqual(t, color, DefaultClusterColor)
	}
}

func TestStyleFor_MaxClusterRadius(t *testing.T) {
	r := NewStyleResolver(StyleConfig{MaxClusterRadius: 25})

	assert.Equal(t, 15.0, r.StyleFor(multi(make([]Status, 5)...)).Radius)
	assert.Equal(t, 25.0, r.StyleFor(multi(make([]Status, 40)...)).Radius)
	assert.Equal(t, DefaultSingletonRadius, r.StyleFor(singleton("a", StatusActive)).Radius)
}

func TestLabel_Singleton(t *testing.T) {
	r := NewStyleResolver(StyleConfig{})
	assert.Equal(t, "Comune A", r.Label(singleton("Comune A", StatusActive)))
	assert.Equal(t, UnnamedPlaceholder, r.Label(singleton("", StatusActive)), "blank names match the popup title")
	assert.Equal(t, UnnamedPlaceholder, r.Label(singleton("  ", StatusActive)))
}

func TestNewStyleResolver_Overrides(t *testing.T) {
	r := NewStyleResolver(StyleConfig{
		SingletonRadius:   6,
		ClusterBaseRadius: 12,
		StatusColors: map[string]string{
			"avviata":     "#00ff00",
			"interested":  "not-a-color",
			"sconosciuto": "#123456",
		},
		ClusterColor:  "#abc",
		FallbackColor: "#zzzzzz",
	})

	assert.Equal(t, "#00ff00", r.StatusColor(StatusActive))
	assert.Equal(t, DefaultStatusColors[StatusInterested], r.StatusColor(StatusInterested))
	assert.Equal(t, DefaultFallbackColor, r.FallbackColor())
	assert.Equal(t, DefaultFallbackColor, r.StatusColor("sconosciuto"))
	assert.Equal(t, 6.0, r.StyleFor(singleton("a", StatusActive)).Radius)

	m := r.StyleFor(multi(StatusActive, StatusActive))
	assert.Equal(t, 14.0, m.Radius)
	assert.Equal(t, "#abc", m.FillColor)
}

func TestBreakdown(t *testing.T) {
	r := NewStyleResolver(StyleConfig{})

	shares := r.Breakdown(multi(StatusInterested, StatusActive, StatusActive, "boh", StatusInterested, StatusActive))
	require.Len(t, shares, 3)

	assert.Equal(t, StatusActive, shares[0].Status)
	assert.Equal(t, 3, shares[0].Count)
	assert.InDelta(t, 0.5, shares[0].Share, 1e-9)
	assert.Equal(t, DefaultStatusColors[StatusActive], shares[0].Color)

	assert.Equal(t, StatusInterested, shares[1].Status)
	assert.Equal(t, 2, shares[1].Count)

	// unknown statuses pooled last
	assert.Equal(t, Status(""), shares[2].Status)
	assert.Equal(t, 1, shares[2].Count)
	assert.Equal(t, DefaultFallbackColor, shares[2].Color)

	total := 0.0
	for _, s := range shares {
		total += s.Share
	}
	assert.InDelta(t, 1.0, total, 1e-9)

	assert.Nil(t, r.Breakdown(&Cluster{}))
	assert.Equal(t, 0, r.CacheLen(), "breakdown must not touch the cache")
}

func TestBreakdown_TiesKeepDisplayOrder(t *testing.T) {
	r := NewStyleResolver(StyleConfig{})
	shares := r.Breakdown(multi(StatusActive, StatusNoData))
	require.Len(t, shares, 2)
	assert.Equal(t, StatusNoData, shares[0].Status)
	assert.Equal(t, StatusActive, shares[1].Status)
}

func TestValidHexColor(t *testing.T) {
	tests := map[string]bool{
		"#fff":      true,
		"#FFA500":   true,
		"#FFA50080": true,
		"FFA500":    true,
		"#ffff":     false,
		"#ggg":      false,
		"":          false,
		"#12 456":   false,
	}
	for in, want := range tests {
		if got := validHexColor(in); got != want {
			t.Errorf("validHexColor(%q) = %v, want %v", in, got, want)
		}
	}
}
