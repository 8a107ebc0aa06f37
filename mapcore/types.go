package mapcore

import (
	"strings"

	"github.com/paulmach/orb"
)

// Status is the progress state of a feature. The four defined values are
// exported constants; any other value is an unrecognized status carried
// verbatim from the source data.
type Status string

const (
	StatusNoData            Status = "no-data"
	StatusInterested        Status = "interested"
	StatusScheduledUnmarked Status = "scheduled-unmarked"
	StatusActive            Status = "active"
)

// KnownStatuses lists the defined statuses in display order.
var KnownStatuses = []Status{
	StatusNoData,
	StatusInterested,
	StatusScheduledUnmarked,
	StatusActive,
}

// statusLabels maps the labels found in the source data to statuses.
// Keys are lower-cased.
var statusLabels = map[string]Status{
	"no-data":            StatusNoData,
	"nessun dato":        StatusNoData,
	"interested":         StatusInterested,
	"interessato":        StatusInterested,
	"interessata":        StatusInterested,
	"scheduled-unmarked": StatusScheduledUnmarked,
	"programmata":        StatusScheduledUnmarked,
	"active":             StatusActive,
	"avviata":            StatusActive,
}

// ParseStatus converts a raw status value. An empty value means no data;
// an unknown value is returned unchanged (trimmed).
func ParseStatus(raw string) Status {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return StatusNoData
	}
	if s, ok := statusLabels[strings.ToLower(trimmed)]; ok {
		return s
	}
	return Status(trimmed)
}

// Known returns true for the four defined statuses
func (s Status) Known() bool {
	switch s {
	case StatusNoData, StatusInterested, StatusScheduledUnmarked, StatusActive:
		return true
	}
	return false
}

// Attribute is a named attribute value in source order
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Feature is an immutable point feature owned by the FeatureStore.
// Coord is in EPSG:3857 map units.
type Feature struct {
	ID         string      `json:"id"`
	Coord      orb.Point   `json:"coord"`
	Name       string      `json:"name"`
	Status     Status      `json:"status"`
	SourceURL  string      `json:"sourceUrl,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// Attribute returns the value of the first attribute with the given name
// (case-insensitive).
func (f *Feature) Attribute(name string) (string, bool) {
	for _, a := range f.Attributes {
		if strings.EqualFold(a.Name, name) {
			return a.Value, true
		}
	}
	return "", false
}

// Cluster groups one or more features rendered as a single marker.
// Members are borrowed from the FeatureStore snapshot that produced the pass.
type Cluster struct {
	ID       string
	Centroid orb.Point
	Members  []*Feature
}

// Size returns the member count
func (c *Cluster) Size() int {
	return len(c.Members)
}

// IsSingleton returns true when the cluster has exactly one member
func (c *Cluster) IsSingleton() bool {
	return len(c.Members) == 1
}

// Point implements orb.Pointer so clusters can live in a quadtree.
func (c *Cluster) Point() orb.Point {
	return c.Centroid
}

// CursorKind is the pointer affordance shown over the map
type CursorKind string

const (
	CursorDefault     CursorKind = "default"
	CursorInteractive CursorKind = "pointer"
)

// Config represents the full configuration file
type Config struct {
	Source  SourceConfig  `yaml:"source" json:"source"`
	View    ViewConfig    `yaml:"view" json:"view"`
	Cluster ClusterConfig `yaml:"cluster" json:"cluster"`
	Style   StyleConfig   `yaml:"style" json:"style"`
	MQTT    MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	HTTP    HTTPConfig    `yaml:"http" json:"http"`
}

// SourceConfig describes where feature data is loaded from
type SourceConfig struct {
	Path           string `yaml:"path,omitempty" json:"path,omitempty"`
	URL            string `yaml:"url,omitempty" json:"url,omitempty"`
	DataProjection string `yaml:"dataProjection,omitempty" json:"dataProjection,omitempty"` // EPSG:4326 (default) or EPSG:3857
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty" json:"timeoutSeconds,omitempty"`
	MaxRetries     int    `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
}

// ViewConfig holds the initial view
type ViewConfig struct {
	Center [2]float64 `yaml:"center" json:"center"` // EPSG:3857
	Zoom   float64    `yaml:"zoom" json:"zoom"`
	Width  int        `yaml:"width" json:"width"`
	Height int        `yaml:"height" json:"height"`
}

// ClusterConfig holds clustering settings
type ClusterConfig struct {
	PixelDistance float64 `yaml:"pixelDistance" json:"pixelDistance"`
	Algorithm     string  `yaml:"algorithm,omitempty" json:"algorithm,omitempty"` // greedy or indexed
}

// StyleConfig holds marker style settings. Colors are hex strings.
type StyleConfig struct {
	SingletonRadius   float64           `yaml:"singletonRadius,omitempty" json:"singletonRadius,omitempty"`
	ClusterBaseRadius float64           `yaml:"clusterBaseRadius,omitempty" json:"clusterBaseRadius,omitempty"`
	MaxClusterRadius  float64           `yaml:"maxClusterRadius,omitempty" json:"maxClusterRadius,omitempty"` // 0 = uncapped
	StatusColors      map[string]string `yaml:"statusColors,omitempty" json:"statusColors,omitempty"`
	ClusterColor      string            `yaml:"clusterColor,omitempty" json:"clusterColor,omitempty"`
	FallbackColor     string            `yaml:"fallbackColor,omitempty" json:"fallbackColor,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	FeatureTopic  string `yaml:"featureTopic,omitempty" json:"featureTopic,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	Port           int      `yaml:"port,omitempty" json:"port,omitempty"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty" json:"allowedOrigins,omitempty"`
}
