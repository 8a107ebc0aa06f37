package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the command line options
type AppOptions struct {
	ConfigFile   string
	Source       string
	FeatureCache string
	Zoom         float64
	Algorithm    string
	OutputFile   string
	RenderFormat string
	HttpPort     int

	ParseOnly    bool
	ClustersOnly bool
	RenderOnly   bool
	MqttMode     bool
	HttpMode     bool
}

// Application is the set of modes run can dispatch to
type Application interface {
	ApplyOptions(opts AppOptions)
	RunParseOnly() error
	RunClusters() error
	RunRender() error
	RunService() error
}

func main() {
	err := run(os.Args[1:], os.Stdout, NewApp())
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// run parses args, applies them to app and dispatches to one mode
func run(args []string, out io.Writer, app Application) error {
	fs := flag.NewFlagSet("comunimap", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.Source, "source", "", "Feature data file or http(s) URL (overrides source in config)")
	fs.StringVar(&opts.FeatureCache, "cache", "", "Path to the last-good feature cache (service mode)")
	fs.Float64Var(&opts.Zoom, "zoom", -1, "Zoom level for --clusters and --render (default: view.zoom from config)")
	fs.StringVar(&opts.Algorithm, "algorithm", "", "Clustering algorithm: greedy or indexed")
	fs.BoolVar(&opts.ParseOnly, "parse-only", false, "Parse the feature data, print a summary and exit")
	fs.BoolVar(&opts.ClustersOnly, "clusters", false, "Print the clusters at the given zoom and exit")
	fs.BoolVar(&opts.RenderOnly, "render", false, "Render the map and exit")
	fs.StringVar(&opts.OutputFile, "output", "map.png", "Output file for --render mode")
	fs.StringVar(&opts.RenderFormat, "format", "raster", "Render format: raster, vector, or svg")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode (feature feed and state publishing)")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server for the map API")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (default: http.port from config, 8080)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "comunimap version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.ParseOnly:
		return app.RunParseOnly()
	case opts.ClustersOnly:
		return app.RunClusters()
	case opts.RenderOnly:
		return app.RunRender()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	_, _ = fmt.Fprintln(out, "comunimap service starting...")
	_, _ = fmt.Fprintln(out, "Use --parse-only to check the feature data")
	_, _ = fmt.Fprintln(out, "Use --clusters --zoom=N to list the clusters at a zoom level")
	_, _ = fmt.Fprintln(out, "Use --render to output the map as PNG or SVG")
	_, _ = fmt.Fprintln(out, "Use --mqtt to run MQTT service mode")
	_, _ = fmt.Fprintln(out, "Use --http to run HTTP server mode")
	_, _ = fmt.Fprintln(out, "Use --mqtt --http to run both MQTT and HTTP together")
	_, _ = fmt.Fprintln(out, "\nConfiguration:")
	_, _ = fmt.Fprintln(out, "  config.yaml - feature source, view, clustering, style, MQTT and HTTP settings")
	return nil
}
