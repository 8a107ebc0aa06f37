package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/comunimap/mapcore"
	"github.com/paulmach/orb/project"
)

const defaultConfigFile = "config.yaml"

// App encapsulates the application state and dependencies
type App struct {
	Config     *mapcore.Config
	Store      *mapcore.FeatureStore
	Styles     *mapcore.StyleResolver
	Session    *mapcore.Session
	MQTTClient *mapcore.MQTTClient
	Publisher  *mapcore.Publisher

	// Out receives the CLI mode reports
	Out io.Writer

	// CLI Flags (effectively dependencies)
	ConfigFile   string
	Source       string
	FeatureCache string
	Zoom         float64
	Algorithm    string
	OutputFile   string
	RenderFormat string
	HttpPort     int
	MqttMode     bool
	HttpMode     bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Out:        os.Stdout,
		ConfigFile: defaultConfigFile,
		Zoom:       -1,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.Source = opts.Source
	a.FeatureCache = opts.FeatureCache
	a.Zoom = opts.Zoom
	a.Algorithm = opts.Algorithm
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadConfig reads the config file, then applies environment and flag
// overrides. A missing default config file is not an error.
func (a *App) loadConfig() (*mapcore.Config, error) {
	var cfg *mapcore.Config

	_, statErr := os.Stat(a.ConfigFile)
	switch {
	case statErr == nil:
		loaded, err := mapcore.LoadConfig(a.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		log.Printf("Loaded config from %s", a.ConfigFile)
	case a.ConfigFile == defaultConfigFile || a.ConfigFile == "":
		cfg = mapcore.DefaultConfig()
	default:
		return nil, fmt.Errorf("config file not found: %s", a.ConfigFile)
	}

	mapcore.ApplyEnvOverrides(cfg)

	if a.Source != "" {
		if strings.HasPrefix(a.Source, "http://") || strings.HasPrefix(a.Source, "https://") {
			cfg.Source.URL, cfg.Source.Path = a.Source, ""
		} else {
			cfg.Source.Path, cfg.Source.URL = a.Source, ""
		}
	}
	if a.Zoom >= 0 {
		cfg.View.Zoom = a.Zoom
	}
	if a.Algorithm != "" {
		cfg.Cluster.Algorithm = a.Algorithm
	}
	if a.HttpPort > 0 {
		cfg.HTTP.Port = a.HttpPort
	}

	if err := mapcore.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	a.Config = cfg
	return cfg, nil
}

// newSource builds the configured feature source, or nil when none is set
func newSource(cfg mapcore.SourceConfig) mapcore.Source {
	switch {
	case cfg.URL != "":
		return mapcore.NewHTTPSource(cfg.URL,
			mapcore.WithTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second),
			mapcore.WithMaxRetries(cfg.MaxRetries),
		)
	case cfg.Path != "":
		return mapcore.FileSource{Path: cfg.Path}
	}
	return nil
}

// buildSession wires the store, engine, styles and view from the config
func (a *App) buildSession(cfg *mapcore.Config, opts mapcore.SessionOptions) error {
	algo, err := mapcore.ParseAlgorithm(cfg.Cluster.Algorithm)
	if err != nil {
		return err
	}

	convert := mapcore.ConvertOptions{DataProjection: cfg.Source.DataProjection}
	if a.Store == nil {
		if a.FeatureCache != "" {
			a.Store = mapcore.NewFeatureStoreWithCache(convert, a.FeatureCache)
		} else {
			a.Store = mapcore.NewFeatureStore(convert)
		}
	}

	a.Styles = mapcore.NewStyleResolver(cfg.Style)
	opts.Engine = mapcore.NewEngine(cfg.Cluster.PixelDistance, algo)
	opts.Styles = a.Styles
	opts.View = mapcore.NewView(cfg.View)
	a.Session = mapcore.NewSession(a.Store, opts)
	return nil
}

// loadOnce fetches the configured source into the store
func (a *App) loadOnce(ctx context.Context, cfg *mapcore.Config) error {
	src := newSource(cfg.Source)
	if src == nil {
		return fmt.Errorf("no feature source configured (use --source or source.path/source.url)")
	}
	if _, err := a.Store.Load(ctx, src); err != nil {
		return err
	}
	return nil
}

// RunParseOnly decodes the feature data and prints a summary
func (a *App) RunParseOnly() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	src := newSource(cfg.Source)
	if src == nil {
		return fmt.Errorf("no feature source configured (use --source or source.path/source.url)")
	}

	data, err := src.Fetch(context.Background())
	if err != nil {
		return &mapcore.LoadError{Source: src.Name(), Op: "fetch", Err: err}
	}
	res, err := mapcore.DecodeFeatureData(data, mapcore.ConvertOptions{DataProjection: cfg.Source.DataProjection})
	if err != nil {
		return &mapcore.LoadError{Source: src.Name(), Op: "decode", Err: err}
	}

	out := a.Out
	_, _ = fmt.Fprintf(out, "=== %s ===\n", src.Name())
	_, _ = fmt.Fprintf(out, "Format: %s\n", res.Format)
	_, _ = fmt.Fprintf(out, "Features: %d\n", len(res.Features))
	_, _ = fmt.Fprintf(out, "Dropped: %d\n", len(res.Dropped))
	for _, d := range res.Dropped {
		_, _ = fmt.Fprintf(out, "  - %v\n", d)
	}

	counts := statusCounts(res.Features)
	_, _ = fmt.Fprintln(out, "Status:")
	for _, s := range mapcore.KnownStatuses {
		_, _ = fmt.Fprintf(out, "  %-20s %d\n", s, counts[s])
		delete(counts, s)
	}
	others := make([]string, 0, len(counts))
	for s := range counts {
		others = append(others, string(s))
	}
	sort.Strings(others)
	for _, s := range others {
		_, _ = fmt.Fprintf(out, "  %-20s %d (unrecognized)\n", s, counts[mapcore.Status(s)])
	}

	if len(res.Features) > 0 {
		b := res.Features[0].Coord.Bound()
		for _, f := range res.Features[1:] {
			b = b.Extend(f.Coord)
		}
		sw := project.Point(b.Min, project.Mercator.ToWGS84)
		ne := project.Point(b.Max, project.Mercator.ToWGS84)
		_, _ = fmt.Fprintf(out, "Extent (lon/lat): [%.5f, %.5f] - [%.5f, %.5f]\n", sw[0], sw[1], ne[0], ne[1])
	}
	return nil
}

func statusCounts(features []*mapcore.Feature) map[mapcore.Status]int {
	counts := make(map[mapcore.Status]int)
	for _, f := range features {
		counts[f.Status]++
	}
	return counts
}

// RunClusters loads the features and lists the clusters at the configured zoom
func (a *App) RunClusters() error {
	snap, err := a.oneShot()
	if err != nil {
		return err
	}

	out := a.Out
	_, _ = fmt.Fprintf(out, "Zoom %.2f (resolution %.2f m/px, merge distance %.0f m): %d features -> %d clusters\n",
		snap.View.Zoom, snap.Resolution,
		mapcore.MergeDistance(snap.Resolution, a.Config.Cluster.PixelDistance),
		snap.FeatureCount, len(snap.Clusters))

	for _, s := range mapcore.Summarize(snap.Clusters) {
		if s.Count == 1 {
			_, _ = fmt.Fprintf(out, "  %-12s 1  %s [%s] (%.5f, %.5f)\n", s.ID, s.Name, s.Status, s.Centroid[0], s.Centroid[1])
			continue
		}
		_, _ = fmt.Fprintf(out, "  %-12s %d  (%.5f, %.5f)\n", s.ID, s.Count, s.Centroid[0], s.Centroid[1])
	}
	return nil
}

// RunRender loads the features and renders one frame to OutputFile
func (a *App) RunRender() error {
	snap, err := a.oneShot()
	if err != nil {
		return err
	}

	output := a.OutputFile
	if output == "" {
		output = "map.png"
	}

	switch a.RenderFormat {
	case "", "raster":
		if err := mapcore.NewRasterRenderer().SavePNG(output, snap); err != nil {
			return fmt.Errorf("saving PNG: %w", err)
		}
	case "vector", "svg":
		if a.RenderFormat == "svg" && filepath.Ext(output) == ".png" {
			output = strings.TrimSuffix(output, ".png") + ".svg"
		}
		if err := a.saveVector(output, snap, a.RenderFormat == "svg"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown render format %q (use raster, vector or svg)", a.RenderFormat)
	}

	_, _ = fmt.Fprintf(a.Out, "Rendered %d clusters (%d visible) to %s\n", len(snap.Clusters), len(snap.Markers), output)
	return nil
}

func (a *App) saveVector(path string, snap mapcore.Snapshot, svg bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	r := mapcore.NewVectorRenderer(a.Styles)
	if svg {
		err = r.RenderToSVG(f, snap)
	} else {
		err = r.RenderToPNG(f, snap)
	}
	if err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	return nil
}

// oneShot loads the source, clusters it once and returns the snapshot
func (a *App) oneShot() (mapcore.Snapshot, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return mapcore.Snapshot{}, err
	}
	if err := a.buildSession(cfg, mapcore.SessionOptions{}); err != nil {
		return mapcore.Snapshot{}, err
	}

	ctx := context.Background()
	if err := a.Session.Start(ctx); err != nil {
		return mapcore.Snapshot{}, err
	}
	defer func() { _ = a.Session.Stop() }()

	// the store notifies the running session, which reclusters before Load returns
	if err := a.loadOnce(ctx, cfg); err != nil {
		return mapcore.Snapshot{}, err
	}
	return a.Session.Snapshot(), nil
}

// RunService runs the MQTT feed and publisher and/or the HTTP API until
// SIGINT or SIGTERM
func (a *App) RunService() error {
	_, _ = fmt.Fprintln(a.Out, "Starting comunimap service...")

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := mapcore.SessionOptions{
		OnOverlay: func(state mapcore.OverlayState) {
			if a.Publisher == nil {
				return
			}
			if err := a.Publisher.PublishOverlay(state); err != nil && !errors.Is(err, mapcore.ErrNotConnected) {
				log.Printf("[MQTT] Error publishing overlay: %v", err)
			}
		},
		OnRecluster: func(snap mapcore.Snapshot) {
			if a.Publisher == nil {
				return
			}
			if err := a.Publisher.PublishClusters(snap); err != nil && !errors.Is(err, mapcore.ErrNotConnected) {
				log.Printf("[MQTT] Error publishing clusters: %v", err)
			}
		},
	}
	if err := a.buildSession(cfg, opts); err != nil {
		return err
	}

	if a.MqttMode {
		client, err := mapcore.InitMQTT(cfg.MQTT, mapcore.FeedInto(ctx, a.Store))
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if client == nil {
			log.Println("Warning: --mqtt given but no broker configured (set mqtt.broker or MQTT_BROKER)")
		} else {
			a.MQTTClient = client
			a.Publisher = mapcore.NewPublisher(client.GetClient(), cfg.MQTT.PublishPrefix)
			log.Printf("MQTT enabled (broker %s, publish prefix %s)", cfg.MQTT.Broker, cfg.MQTT.PublishPrefix)
		}
	}

	if err := a.Session.Start(ctx); err != nil {
		return err
	}

	if src := newSource(cfg.Source); src != nil {
		log.Printf("[LOAD] Loading features from %s", src.Name())
		a.Store.LoadAsync(ctx, src, nil)
	} else if a.MQTTClient == nil {
		log.Println("Warning: no feature source configured; the map stays empty")
	}

	var server *http.Server
	if a.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:           newHTTPServer(a.Store, a.Session, a.Styles, cfg.HTTP),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
			}
		}()

		_, _ = fmt.Fprintf(a.Out, "HTTP server listening on http://localhost:%d\n", cfg.HTTP.Port)
		_, _ = fmt.Fprintln(a.Out, "  GET  /                  - map page")
		_, _ = fmt.Fprintln(a.Out, "  GET  /map.png           - raster map")
		_, _ = fmt.Fprintln(a.Out, "  GET  /map.svg           - vector map")
		_, _ = fmt.Fprintln(a.Out, "  GET  /features.geojson  - loaded features")
		_, _ = fmt.Fprintln(a.Out, "  GET  /clusters.geojson  - clusters at the current view")
		_, _ = fmt.Fprintln(a.Out, "  POST /view /pointer /click - interaction")
		_, _ = fmt.Fprintln(a.Out, "  GET  /overlay           - current popup")
		_, _ = fmt.Fprintln(a.Out, "  GET  /health, /metrics")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received %v, shutting down...", sig)

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
		shutdownCancel()
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	cancel()
	return a.Session.Stop()
}
