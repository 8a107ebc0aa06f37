package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/kwv/comunimap/mapcore"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxRequestBody caps JSON bodies accepted by the interaction endpoints
const maxRequestBody = 64 << 10

// viewRequest changes the view. Fields are applied in order: size and
// center, then zoom, then the pixel drag.
type viewRequest struct {
	Center *[2]float64 `json:"center,omitempty"` // EPSG:3857
	Zoom   *float64    `json:"zoom,omitempty"`
	DX     float64     `json:"dx,omitempty"`
	DY     float64     `json:"dy,omitempty"`
	Width  int         `json:"width,omitempty"`
	Height int         `json:"height,omitempty"`
}

// pointRequest is a viewport pixel
type pointRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type cursorResponse struct {
	Cursor mapcore.CursorKind `json:"cursor"`
}

// newHTTPServer creates the HTTP handler for the map API
func newHTTPServer(store *mapcore.FeatureStore, session *mapcore.Session, styles *mapcore.StyleResolver, cfg mapcore.HTTPConfig) http.Handler {
	mux := http.NewServeMux()
	raster := mapcore.NewRasterRenderer()
	vector := mapcore.NewVectorRenderer(styles)

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		set := store.Snapshot()
		snap := session.Snapshot()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "ok",
			"timestamp":      time.Now().Unix(),
			"hasData":        set.Len() > 0,
			"features":       set.Len(),
			"featureVersion": set.Version,
			"clusters":       len(snap.Clusters),
			"passes":         snap.Passes,
		})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /features.geojson", func(w http.ResponseWriter, r *http.Request) {
		writeGeoJSON(w, mapcore.FeaturesToGeoJSON(store.Features()))
	})

	mux.HandleFunc("GET /clusters.geojson", func(w http.ResponseWriter, r *http.Request) {
		writeGeoJSON(w, mapcore.ClustersToGeoJSON(session.Snapshot().Placed))
	})

	mux.HandleFunc("GET /map.png", func(w http.ResponseWriter, r *http.Request) {
		snap := session.Snapshot()
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		var err error
		if r.URL.Query().Get("format") == "vector" {
			err = vector.RenderToPNG(w, snap)
		} else {
			err = raster.RenderPNG(w, snap)
		}
		if err != nil {
			log.Printf("[HTTP] Error encoding map PNG: %v", err)
		}
	})

	mux.HandleFunc("GET /map.svg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := vector.RenderToSVG(w, session.Snapshot()); err != nil {
			log.Printf("[HTTP] Error encoding map SVG: %v", err)
		}
	})

	mux.HandleFunc("GET /view", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, session.Snapshot())
	})

	mux.HandleFunc("POST /view", func(w http.ResponseWriter, r *http.Request) {
		var req viewRequest
		if !decodeBody(w, r, &req) {
			return
		}
		snap, err := applyView(r.Context(), session, req)
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("POST /pointer", func(w http.ResponseWriter, r *http.Request) {
		var req pointRequest
		if !decodeBody(w, r, &req) {
			return
		}
		kind, err := session.PointerMove(r.Context(), mapcore.Pixel{X: req.X, Y: req.Y})
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cursorResponse{Cursor: kind})
	})

	mux.HandleFunc("POST /click", func(w http.ResponseWriter, r *http.Request) {
		var req pointRequest
		if !decodeBody(w, r, &req) {
			return
		}
		state, err := session.Click(r.Context(), mapcore.Pixel{X: req.X, Y: req.Y})
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mapcore.NewOverlayMessage(state))
	})

	mux.HandleFunc("GET /overlay", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, mapcore.NewOverlayMessage(session.Snapshot().Overlay))
	})

	mux.HandleFunc("DELETE /overlay", func(w http.ResponseWriter, r *http.Request) {
		state, err := session.CloseOverlay(r.Context())
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mapcore.NewOverlayMessage(state))
	})

	// Default route serves an HTML page embedding the raster map
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprint(w, indexPage)
	})

	var handler http.Handler = mux
	if len(cfg.AllowedOrigins) > 0 {
		handler = handlers.CORS(
			handlers.AllowedOrigins(cfg.AllowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
		)(mux)
	}

	// Wrap with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		handler.ServeHTTP(w, r)
	})
}

// applyView applies a view request and returns the resulting snapshot
func applyView(ctx context.Context, session *mapcore.Session, req viewRequest) (mapcore.Snapshot, error) {
	snap := session.Snapshot()
	var err error

	if req.Center != nil || req.Width > 0 || req.Height > 0 {
		v := snap.View
		if req.Center != nil {
			v = v.PanTo(orb.Point{req.Center[0], req.Center[1]})
		}
		if req.Width > 0 || req.Height > 0 {
			v = v.WithSize(req.Width, req.Height)
		}
		if snap, err = session.SetView(ctx, v); err != nil {
			return snap, err
		}
	}
	if req.Zoom != nil {
		if snap, err = session.SetZoom(ctx, *req.Zoom); err != nil {
			return snap, err
		}
	}
	if req.DX != 0 || req.DY != 0 {
		if snap, err = session.Pan(ctx, req.DX, req.DY); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func sessionError(w http.ResponseWriter, err error) {
	log.Printf("[HTTP] Session error: %v", err)
	http.Error(w, err.Error(), http.StatusServiceUnavailable)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Error encoding JSON: %v", err)
	}
}

func writeGeoJSON(w http.ResponseWriter, fc json.Marshaler) {
	data, err := fc.MarshalJSON()
	if err != nil {
		http.Error(w, "Failed to encode GeoJSON", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

const indexPage = `<!DOCTYPE html>
<html lang="it">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>comunimap</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
html,body{width:100%;height:100%;overflow:hidden;background:#f2efe9;font-family:sans-serif}
#map{display:block;cursor:default}
#popup{position:absolute;top:8px;right:8px;max-width:320px;background:#fff;border:1px solid #555;padding:8px;display:none}
#popup h3{font-size:14px;margin-bottom:4px}
#popup .hint{font-style:italic;margin-top:4px}
</style>
</head>
<body>
<img id="map" src="/map.png" alt="Mappa dei comuni">
<div id="popup"></div>
<script>
const img = document.getElementById('map');
const popup = document.getElementById('popup');
const post = (path, body) => fetch(path, {method: 'POST', headers: {'Content-Type': 'application/json'}, body: JSON.stringify(body)}).then(r => r.json());
const reload = () => { img.src = '/map.png?t=' + Date.now(); };
img.addEventListener('mousemove', e => post('/pointer', {x: e.offsetX, y: e.offsetY}).then(r => { img.style.cursor = r.cursor; }));
img.addEventListener('click', e => post('/click', {x: e.offsetX, y: e.offsetY}).then(o => {
  popup.style.display = o.visible ? 'block' : 'none';
  popup.innerHTML = o.visible ? o.html : '';
}));
img.addEventListener('wheel', e => {
  e.preventDefault();
  fetch('/view').then(r => r.json()).then(s => post('/view', {zoom: s.view.zoom + (e.deltaY < 0 ? 1 : -1)})).then(reload);
}, {passive: false});
</script>
</body>
</html>`
