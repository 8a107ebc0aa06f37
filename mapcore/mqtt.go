package mapcore

import (
	"context"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// FeedHandler is called with every payload received on the feature topic
type FeedHandler func(topic string, payload []byte)

// MQTTClient manages the broker connection and the feature feed subscription
type MQTTClient struct {
	client      mqtt.Client
	config      MQTTConfig
	handler     FeedHandler
	isConnected bool
	mu          sync.RWMutex
	done        chan struct{}
	closeOnce   sync.Once
}

// InitMQTT creates a client and starts connecting in the background.
// If no broker is configured, MQTT is disabled and this returns nil.
// Environment overrides must already be applied to cfg.
func InitMQTT(cfg MQTTConfig, handler FeedHandler) (*MQTTClient, error) {
	if cfg.Broker == "" {
		log.Println("[MQTT] MQTT disabled: no broker configured")
		return nil, nil
	}

	client := &MQTTClient{
		config:  cfg,
		handler: handler,
		done:    make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Connection settings
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the subscription across reconnects
	opts.SetOrderMatters(true)  // feature payloads must apply in arrival order

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] Connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] Successfully connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] Connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] Connection timeout")
		}

		log.Printf("[MQTT] Retrying connection in %v...", retryDelay)
		select {
		case <-c.done:
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the feature topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.config.FeatureTopic
	if topic == "" {
		log.Println("[MQTT] Connected (publish only, no feature topic configured)")
		return
	}

	log.Printf("[MQTT] Connected, subscribing to %s", topic)
	token := client.Subscribe(topic, 1, c.createMessageHandler())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] Error subscribing to %s: %v", topic, token.Error())
	} else {
		log.Printf("[MQTT] Successfully subscribed to %s", topic)
	}
}

// onConnectionLost is called when the connection drops; auto-reconnect retries
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] Connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] Reconnecting...")
}

func (c *MQTTClient) createMessageHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("[MQTT] Received feature data (topic: %s, size: %d bytes)", msg.Topic(), len(payload))
		if c.handler != nil {
			c.handler(msg.Topic(), payload)
		}
	}
}

// IsConnected returns true if the client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect stops connection attempts and closes the connection
func (c *MQTTClient) Disconnect() {
	c.closeOnce.Do(func() { close(c.done) })
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] Disconnecting from broker...")
		c.client.Disconnect(250)
	}
	c.setConnected(false)
}

// GetClient returns the underlying client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// FeedInto returns a FeedHandler that loads each payload into store.
// Decode failures are logged and the store keeps its snapshot.
func FeedInto(ctx context.Context, store *FeatureStore) FeedHandler {
	return func(topic string, payload []byte) {
		src := BytesSource{Label: "mqtt:" + topic, Data: payload}
		if _, err := store.Load(ctx, src); err != nil {
			log.Printf("[MQTT] %v", err)
		}
	}
}

// newMQTTClientWithMock wraps a provided client for tests
func newMQTTClientWithMock(client mqtt.Client, cfg MQTTConfig, handler FeedHandler) *MQTTClient {
	return &MQTTClient{
		client:  client,
		config:  cfg,
		handler: handler,
		done:    make(chan struct{}),
	}
}
