package mapcore

import (
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"
)

// Defaults for the network surfaces
const (
	DefaultHTTPPort      = 8080
	DefaultClientID      = "comunimap"
	DefaultPublishPrefix = "comunimap"
)

// DefaultConfig returns a configuration with every default applied
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// LoadConfig loads the configuration from a YAML file, applies defaults
// and validates it
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	ApplyDefaults(&config)
	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyDefaults fills unset fields
func ApplyDefaults(c *Config) {
	if c.Source.DataProjection == "" {
		c.Source.DataProjection = ProjectionWGS84
	}
	if c.Source.TimeoutSeconds <= 0 {
		c.Source.TimeoutSeconds = int(DefaultFetchTimeout.Seconds())
	}
	if c.Source.MaxRetries <= 0 {
		c.Source.MaxRetries = DefaultMaxRetries
	}

	if c.View.Center == [2]float64{} {
		c.View.Center = [2]float64{DefaultCenter[0], DefaultCenter[1]}
	}
	if c.View.Zoom == 0 {
		c.View.Zoom = DefaultZoom
	}
	if c.View.Width <= 0 {
		c.View.Width = DefaultWidth
	}
	if c.View.Height <= 0 {
		c.View.Height = DefaultHeight
	}

	if c.Cluster.PixelDistance <= 0 {
		c.Cluster.PixelDistance = DefaultPixelDistance
	}
	if c.Cluster.Algorithm == "" {
		c.Cluster.Algorithm = string(AlgorithmGreedy)
	}

	if c.Style.SingletonRadius <= 0 {
		c.Style.SingletonRadius = DefaultSingletonRadius
	}
	if c.Style.ClusterBaseRadius <= 0 {
		c.Style.ClusterBaseRadius = DefaultClusterBaseRadius
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultClientID
	}
	if c.MQTT.PublishPrefix == "" {
		c.MQTT.PublishPrefix = DefaultPublishPrefix
	}

	if c.HTTP.Port <= 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
}

// ValidateConfig checks a configuration with defaults applied
func ValidateConfig(c *Config) error {
	if c.Source.Path != "" && c.Source.URL != "" {
		return fmt.Errorf("source.path and source.url are mutually exclusive")
	}
	if c.Source.URL != "" && !strings.HasPrefix(c.Source.URL, "http://") && !strings.HasPrefix(c.Source.URL, "https://") {
		return fmt.Errorf("source.url must be an http(s) URL: %s", c.Source.URL)
	}
	if _, err := projectPoint(orb.Point{}, c.Source.DataProjection); err != nil {
		return fmt.Errorf("source.dataProjection: %w", err)
	}

	if c.View.Zoom < MinZoom || c.View.Zoom > MaxZoom {
		return fmt.Errorf("view.zoom must be within [%g, %g], got %g", MinZoom, MaxZoom, c.View.Zoom)
	}
	if _, err := ParseAlgorithm(c.Cluster.Algorithm); err != nil {
		return fmt.Errorf("cluster.algorithm: %w", err)
	}

	if c.Style.MaxClusterRadius < 0 {
		return fmt.Errorf("style.maxClusterRadius must not be negative")
	}
	for raw, color := range c.Style.StatusColors {
		if !ParseStatus(raw).Known() {
			return fmt.Errorf("style.statusColors: unknown status %q", raw)
		}
		if !validHexColor(color) {
			return fmt.Errorf("style.statusColors[%s]: invalid color %q", raw, color)
		}
	}
	for name, color := range map[string]string{"clusterColor": c.Style.ClusterColor, "fallbackColor": c.Style.FallbackColor} {
		if color != "" && !validHexColor(color) {
			return fmt.Errorf("style.%s: invalid color %q", name, color)
		}
	}

	if c.MQTT.FeatureTopic != "" && c.MQTT.Broker == "" && os.Getenv("MQTT_BROKER") == "" {
		return fmt.Errorf("mqtt.featureTopic requires mqtt.broker")
	}
	if c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	return nil
}

// ApplyEnvOverrides lets MQTT_* environment variables take precedence
// over the file values
func ApplyEnvOverrides(c *Config) {
	for env, field := range map[string]*string{
		"MQTT_BROKER":         &c.MQTT.Broker,
		"MQTT_CLIENT_ID":      &c.MQTT.ClientID,
		"MQTT_USERNAME":       &c.MQTT.Username,
		"MQTT_PASSWORD":       &c.MQTT.Password,
		"MQTT_FEATURE_TOPIC":  &c.MQTT.FeatureTopic,
		"MQTT_PUBLISH_PREFIX": &c.MQTT.PublishPrefix,
	} {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
}
