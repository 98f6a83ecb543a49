package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/eddielth/serial-bridge/config"
	"github.com/eddielth/serial-bridge/logger"
)

const (
	// QoSAtMostOnce is the only QoS the bridge uses.
	QoSAtMostOnce byte = 0

	defaultKeepAlive      = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultTokenTimeout   = 5 * time.Second
	disconnectQuiesce     = 250 // milliseconds
	connCheckInterval     = time.Second

	// eventBuffer is how many incoming messages may wait for Poll before
	// paho's router is held up.
	eventBuffer = 10
)

// Client is a paho MQTT session driven by polling. Incoming messages and
// connection loss are queued by paho's callbacks and handed out one at a time
// by Poll, so the caller's loop is the only place failures are discovered.
// paho's own auto-reconnect is disabled; the caller reconnects by calling
// Subscribe again.
type Client struct {
	client  mqtt.Client
	config  config.MQTTConfig
	timeout time.Duration

	events chan Event
	lost   chan error

	done      chan struct{}
	closeOnce sync.Once
	log       *logger.Component
}

// NewClient creates an unconnected client.
func NewClient(cfg config.MQTTConfig) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("MQTT broker host cannot be empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "serial-bridge-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	}

	c := &Client{
		config:  cfg,
		timeout: defaultTokenTimeout,
		events:  make(chan Event, eventBuffer),
		lost:    make(chan error, 1),
		done:    make(chan struct{}),
		log:     logger.Named("mqtt"),
	}
	c.client = mqtt.NewClient(c.buildOptions())
	return c, nil
}

func (c *Client) buildOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.BrokerURL())
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	keepAlive := time.Duration(c.config.KeepAliveSeconds) * time.Second
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(defaultConnectTimeout)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetDefaultPublishHandler(c.handleMessage)
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.emitInfo(Event{Kind: EventConnected})
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Error("MQTT connection lost: %v", err)
		select {
		case c.lost <- err:
		default:
		}
	})

	return opts
}

// BrokerURL returns the tcp:// URL of the configured broker.
func (c *Client) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.config.Host, c.config.Port)
}

// ClientID returns the effective client identifier.
func (c *Client) ClientID() string {
	return c.config.ClientID
}

// IsConnected reports whether the connection to the broker is up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Subscribe connects if necessary and subscribes to topics at QoS 0.
func (c *Client) Subscribe(ctx context.Context, topics []string) error {
	if c.isClosed() {
		return ErrClosed
	}
	if len(topics) == 0 {
		return ErrInvalidTopic
	}

	if !c.client.IsConnectionOpen() {
		if err := c.connect(ctx); err != nil {
			return err
		}
	}

	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		if topic == "" {
			return ErrInvalidTopic
		}
		filters[topic] = QoSAtMostOnce
	}

	token := c.client.SubscribeMultiple(filters, c.handleMessage)
	if err := c.wait(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	if st, ok := token.(*mqtt.SubscribeToken); ok {
		for topic, code := range st.Result() {
			if code == 0x80 {
				return fmt.Errorf("%w: broker refused %s", ErrSubscribeFailed, topic)
			}
		}
	}

	c.log.Info("subscribed to %s", strings.Join(topics, ", "))
	c.emitInfo(Event{Kind: EventSubscribed})
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	// A loss reported for the previous connection must not end the new one.
	select {
	case <-c.lost:
	default:
	}

	token := c.client.Connect()
	if err := c.waitFor(ctx, token, defaultConnectTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.log.Info("connected to MQTT broker %s as %s", c.BrokerURL(), c.config.ClientID)
	return nil
}

// Poll blocks until the next event, a lost connection, or ctx is done.
func (c *Client) Poll(ctx context.Context) (Event, error) {
	ticker := time.NewTicker(connCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-c.done:
			return Event{}, ErrClosed
		case ev := <-c.events:
			return ev, nil
		case err := <-c.lost:
			return Event{}, fmt.Errorf("%w: %w", ErrConnectionLost, err)
		case <-ticker.C:
			if !c.client.IsConnectionOpen() {
				return Event{}, ErrNotConnected
			}
		}
	}
}

// Publish sends payload to topic at QoS 0, not retained.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if c.isClosed() {
		return ErrClosed
	}
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, QoSAtMostOnce, false, payload)
	if err := c.wait(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close disconnects and unblocks any pending Poll.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.client.IsConnected() {
			c.client.Disconnect(disconnectQuiesce)
		}
		c.log.Info("disconnected from MQTT broker")
	})
}

// handleMessage runs on paho's router goroutine. It blocks while the event
// buffer is full, which holds up further deliveries from the broker.
func (c *Client) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	ev := Event{Kind: EventPublish, Topic: msg.Topic(), Payload: msg.Payload()}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// emitInfo queues an informational event, dropping it if the buffer is full.
func (c *Client) emitInfo(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) wait(ctx context.Context, token mqtt.Token) error {
	return c.waitFor(ctx, token, c.timeout)
}

func (c *Client) waitFor(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
