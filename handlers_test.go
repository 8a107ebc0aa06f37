package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kwv/comunimap/mapcore"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler http.Handler
	session *mapcore.Session
	store   *mapcore.FeatureStore
}

// newTestServer starts a 400x300 session over central and northern Italy
// at zoom 6, so both fixture clusters are on screen
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := mapcore.NewFeatureStore(mapcore.ConvertOptions{})
	styles := mapcore.NewStyleResolver(mapcore.StyleConfig{})
	session := mapcore.NewSession(store, mapcore.SessionOptions{
		Styles: styles,
		View:   mapcore.NewView(mapcore.ViewConfig{Center: [2]float64{1200000, 5420000}, Zoom: 6, Width: 400, Height: 300}),
	})
	require.NoError(t, session.Start(context.Background()))
	t.Cleanup(func() { _ = session.Stop() })

	cfg := mapcore.HTTPConfig{AllowedOrigins: []string{"https://example.org"}}
	return &testServer{
		handler: newHTTPServer(store, session, styles, cfg),
		session: session,
		store:   store,
	}
}

func (s *testServer) loadFixture(t *testing.T) {
	t.Helper()
	res, err := mapcore.DecodeFeatureData([]byte(testGeoJSON), mapcore.ConvertOptions{})
	require.NoError(t, err)
	s.store.Replace("fixture", res.Features)
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

// markerFor returns the visible marker of the singleton cluster named name
func (s *testServer) markerFor(t *testing.T, name string) *mapcore.Marker {
	t.Helper()
	for _, m := range s.session.Snapshot().Markers {
		if m.Cluster.IsSingleton() && m.Cluster.Members[0].Name == name {
			return m
		}
	}
	t.Fatalf("no visible marker for %s", name)
	return nil
}

func TestHealth_NoData(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["hasData"])
	assert.Equal(t, 0.0, body["features"])
}

func TestHealth_WithData(t *testing.T) {
	s := newTestServer(t)
	s.loadFixture(t)

	rr := s.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, true, body["hasData"])
	assert.Equal(t, 3.0, body["features"])
	assert.Equal(t, 2.0, body["clusters"])
	assert.Equal(t, 1.0, body["featureVersion"])
}

func TestFeaturesGeoJSON(t *testing.T) {
	s := newTestServer(t)
	s.loadFixture(t)

	rr := s.do(http.MethodGet, "/features.geojson", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/geo+json", rr.Header().Get("Content-Type"))

	fc, err := geojson.UnmarshalFeatureCollection(rr.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 3)
	assert.Equal(t, "Roma", fc.Features[0].Properties["name"])
	assert.Equal(t, "active", fc.Features[0].Properties["status"])
	assert.Equal(t, "RM", fc.Features[0].Properties["provincia"])
}

func TestClustersGeoJSON(t *testing.T) {
	s := newTestServer(t)
	s.loadFixture(t)

	rr := s.do(http.MethodGet, "/clusters.geojson", "")
	require.Equal(t, http.StatusOK, rr.Code)

	fc, err := geojson.UnmarshalFeatureCollection(rr.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	counts := map[float64]bool{}
	for _, f := range fc.Features {
		counts[f.Properties["point_count"].(float64)] = true
		assert.NotEmpty(t, f.Properties["fill"])
	}
	assert.True(t, counts[1])
	assert.True(t, counts[2])
}

func TestMapPNG(t *testing.T) {
	s := newTestServer(t)
	s.loadFixture(t)

	for _, path := range []string{"/map.png", "/map.png?format=vector"} {
		t.Run(path, func(t *testing.T) {
			rr := s.do(http.MethodGet, path, "")
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
			assert.Equal(t, "no-cache", rr.Header().Get("Cache-Control"))

			img, err := png.Decode(bytes.NewReader(rr.Body.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, 400, img.Bounds().Dx())
			assert.Equal(t, 300, img.Bounds().Dy())
		})
	}
}

func TestMapSVG(t *testing.T) {
	s := newTestServer(t)
	s.loadFixture(t)

	rr := s.do(http.MethodGet, "/map.svg", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/svg+xml", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "<svg")
}

func TestView_ZoomReclustersPanDoesNot(t *testing.T) {
	s := newTestServer(t)
	s.loadFixture(t)
	before := s.session.Snapshot().Passes

	rr := s.do(http.MethodPost, "/view", `{"dx": 25, "dy": -10}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var panned mapcore.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &panned))
	assert.Equal(t, before, panned.Passes)

	rr = s.do(http.MethodPost, "/view", `{"zoom": 12}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var zoomed mapcore.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &zoomed))
	assert.Equal(t, 12.0, zoomed.View.Zoom)
	assert.Equal(t, before+1, zoomed.Passes)
	assert.Len(t, s.session.Snapshot().Clusters, 3)
}

func TestView_SizeAndCenter(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(http.MethodPost, "/view", `{"center": [1000000, 5000000], "width": 640, "height": 480}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var snap mapcore.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, 640, snap.View.Width)
	assert.Equal(t, 480, snap.View.Height)
	assert.Equal(t, 1000000.0, snap.View.Center[0])
}

func TestPointer(t *testing.T) {
	s := newTestServer(t)
	s.loadFixture(t)
	m := s.markerFor(t, "Milano")

	rr := s.do(http.MethodPost, "/pointer", `{"x": `+ftoa(m.Pixel.X)+`, "y": `+ftoa(m.Pixel.Y)+`}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"cursor": "pointer"}`, rr.Body.String())

	rr = s.do(http.MethodPost, "/pointer", `{"x": 1, "y": 1}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"cursor": "default"}`, rr.Body.String())
}

func TestClickOverlayLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.loadFixture(t)
	m := s.markerFor(t, "Milano")

	rr := s.do(http.MethodPost, "/click", `{"x": `+ftoa(m.Pixel.X)+`, "y": `+ftoa(m.Pixel.Y)+`}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var msg mapcore.OverlayMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msg))
	assert.True(t, msg.Visible)
	require.NotNil(t, msg.Content)
	assert.Equal(t, "Milano", msg.Content.Title)
	assert.Contains(t, msg.HTML, "<h3>Milano</h3>")
	require.NotNil(t, msg.Position)
	assert.InDelta(t, 9.19, msg.Position[0], 0.5) // lon/lat, not map units

	rr = s.do(http.MethodGet, "/overlay", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"visible":true`)

	rr = s.do(http.MethodDelete, "/overlay", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"visible":false`)
	assert.False(t, s.session.Snapshot().Overlay.Visible)
}

func TestClick_EmptySpaceHides(t *testing.T) {
	s := newTestServer(t)
	s.loadFixture(t)

	rr := s.do(http.MethodPost, "/click", `{"x": 1, "y": 1}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"visible":false`)
}

func TestInteraction_BadBody(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/view", "/pointer", "/click"} {
		rr := s.do(http.MethodPost, path, `{not json`)
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
}

func TestInteraction_SessionStopped(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.session.Stop())

	rr := s.do(http.MethodPost, "/click", `{"x": 1, "y": 1}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestIndexAndNotFound(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `<img id="map" src="/map.png"`)

	rr = s.do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.loadFixture(t)

	rr := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "comunimap_cluster_passes_total")
}

func TestCORS(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.org")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, "https://example.org", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func ftoa(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
