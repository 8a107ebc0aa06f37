package mapcore

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for feature fetches.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes limits the response body to 50 MB to prevent OOM.
	maxResponseBytes = 50 << 20

	acceptFeatureFormats = "application/vnd.google-earth.kml+xml, application/vnd.google-earth.kmz, application/geo+json, application/json;q=0.9, */*;q=0.5"
)

// Source provides raw feature data bytes
type Source interface {
	// Name identifies the source in logs and errors
	Name() string
	Fetch(ctx context.Context) ([]byte, error)
}

// FileSource reads feature data from a local file
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return s.Path }

func (s FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// BytesSource serves an in-memory payload, e.g. one received over MQTT
type BytesSource struct {
	Label string
	Data  []byte
}

func (s BytesSource) Name() string { return s.Label }

func (s BytesSource) Fetch(ctx context.Context) ([]byte, error) {
	return s.Data, ctx.Err()
}

// FetchOption configures HTTPSource behavior.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// HTTPSource fetches feature data over HTTP, retrying transient failures
// with exponential backoff.
type HTTPSource struct {
	URL    string
	cfg    fetchConfig
	client *http.Client
}

// NewHTTPSource creates a source for the given URL
func NewHTTPSource(url string, opts ...FetchOption) *HTTPSource {
	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRetries < 1 {
		cfg.maxRetries = 1
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}
	return &HTTPSource{URL: url, cfg: cfg, client: client}
}

func (s *HTTPSource) Name() string { return s.URL }

func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	if s.URL == "" {
		return nil, fmt.Errorf("fetch features: URL is empty")
	}

	var lastErr error
	for attempt := range s.cfg.maxRetries {
		if attempt > 0 {
			backoff := s.cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch features: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, retry, err := doFetch(ctx, s.client, s.URL)
		if err == nil {
			return body, nil
		}
		if !retry {
			return nil, fmt.Errorf("fetch features: %w", err)
		}
		lastErr = err
	}

	return nil, fmt.Errorf("fetch features: all %d attempts failed: %w", s.cfg.maxRetries, lastErr)
}

// doFetch performs a single HTTP GET. retry reports whether the failure
// looks transient.
func doFetch(ctx context.Context, client *http.Client, url string) (body []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", acceptFeatureFormats)

	resp, err := client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		transient := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, transient, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, true, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return body, false, nil
}
