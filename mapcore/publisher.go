package mapcore

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/paulmach/orb"
)

// ClusterSummary is the published form of one cluster
type ClusterSummary struct {
	ID       string    `json:"id"`
	Count    int       `json:"count"`
	Centroid orb.Point `json:"centroid"` // lon/lat
	Name     string    `json:"name,omitempty"`
	Status   Status    `json:"status,omitempty"`
}

// OverlayMessage is the payload published on {prefix}/overlay
type OverlayMessage struct {
	OverlayState
	Position  *orb.Point `json:"position,omitempty"` // lon/lat
	HTML      string     `json:"html,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

// ClustersMessage is the payload published on {prefix}/clusters
type ClustersMessage struct {
	FeatureVersion uint64           `json:"featureVersion"`
	Zoom           float64          `json:"zoom"`
	Resolution     float64          `json:"resolution"`
	Clusters       []ClusterSummary `json:"clusters"`
	Timestamp      int64            `json:"timestamp"`
}

// Publisher publishes overlay transitions and cluster summaries to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	mu            sync.RWMutex
	lastOverlay   *OverlayMessage
}

// NewPublisher creates a publisher. An empty prefix falls back to
// MQTT_PUBLISH_PREFIX and then to the default prefix. If client is nil,
// publishing is disabled.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = os.Getenv("MQTT_PUBLISH_PREFIX")
	}
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true, // late subscribers get the current state
	}
}

// NewOverlayMessage converts an overlay state to its wire form: the
// position in lon/lat and the content rendered as escaped HTML
func NewOverlayMessage(state OverlayState) *OverlayMessage {
	msg := &OverlayMessage{OverlayState: state, Timestamp: time.Now().Unix()}
	if state.Position != nil {
		ll := toWGS84(*state.Position)
		msg.Position = &ll
	}
	if state.Content != nil {
		msg.HTML = state.Content.HTML()
	}
	return msg
}

// PublishOverlay publishes an overlay state to {prefix}/overlay
func (p *Publisher) PublishOverlay(state OverlayState) error {
	msg := NewOverlayMessage(state)

	p.mu.Lock()
	p.lastOverlay = msg
	p.mu.Unlock()

	if err := p.publish("overlay", msg); err != nil {
		return err
	}
	log.Printf("[MQTT] Published overlay (visible=%t)", state.Visible)
	return nil
}

// PublishClusters publishes the cluster set of a snapshot to {prefix}/clusters
func (p *Publisher) PublishClusters(snap Snapshot) error {
	msg := ClustersMessage{
		FeatureVersion: snap.FeatureVersion,
		Zoom:           snap.View.Zoom,
		Resolution:     snap.Resolution,
		Clusters:       Summarize(snap.Clusters),
		Timestamp:      time.Now().Unix(),
	}
	if err := p.publish("clusters", msg); err != nil {
		return err
	}
	log.Printf("[MQTT] Published %d clusters (zoom %.1f)", len(msg.Clusters), msg.Zoom)
	return nil
}

// Summarize converts clusters to their published form
func Summarize(clusters []*Cluster) []ClusterSummary {
	out := make([]ClusterSummary, 0, len(clusters))
	for _, c := range clusters {
		s := ClusterSummary{ID: c.ID, Count: c.Size(), Centroid: toWGS84(c.Centroid)}
		if c.IsSingleton() {
			s.Name = c.Members[0].Name
			s.Status = c.Members[0].Status
		}
		out = append(out, s)
	}
	return out
}

func (p *Publisher) publish(suffix string, v any) error {
	if p.client == nil || !p.client.IsConnected() {
		return ErrNotConnected
	}

	topic := fmt.Sprintf("%s/%s", p.publishPrefix, suffix)
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", suffix, err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastOverlay returns the last overlay message, published or not
func (p *Publisher) LastOverlay() (*OverlayMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastOverlay, p.lastOverlay != nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
