// Package bus connects the analyzer to the MQTT broker.
//
// Work items arrive on a single topic and are queued for a fixed pool of
// workers. Each worker runs the handler under a deadline and publishes the
// handler's response to the result topic.
//
// The MQTT callback never blocks: a full queue or an oversize payload drops
// the message with a warning. Auto-reconnect is left to the paho client and
// the subscription is renewed from the connect handler.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/RyanBlaney/harmonic-analyzer/logging"
)

// Handler processes one payload. A nil response publishes nothing.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Options configures a Client
type Options struct {
	BrokerURL       string // tcp://host:port
	ClientID        string
	Username        string
	Password        string
	Topic           string // Work items are received here
	ResultTopic     string // Responses are published here; empty disables publishing
	QoS             byte
	KeepAlive       time.Duration
	ConnectTimeout  time.Duration
	Workers         int
	QueueDepth      int
	MaxPayloadBytes int
	HandlerTimeout  time.Duration
}

const (
	defaultWorkers        = 4
	defaultQueueDepth     = 256
	defaultHandlerTimeout = 30 * time.Second
	disconnectQuiesceMs   = 250
	publishTimeout        = 10 * time.Second
)

// publisher is the part of mqtt.Client the workers need
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

type delivery struct {
	topic    string
	payload  []byte
	received time.Time
}

// Client consumes work items from MQTT and publishes results
type Client struct {
	opts    Options
	handler Handler
	logger  logging.Logger

	client mqtt.Client
	pub    publisher

	queue  chan delivery
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc

	handled atomic.Uint64
	dropped atomic.Uint64
	errored atomic.Uint64
}

// New creates a Client. Start connects it.
func New(opts Options, handler Handler, logger logging.Logger) *Client {
	if logger == nil {
		logger = &logging.NoOpLogger{}
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = defaultQueueDepth
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = defaultHandlerTimeout
	}
	return &Client{
		opts:    opts,
		handler: handler,
		logger:  logger.WithFields(logging.Fields{"component": "bus", "topic": opts.Topic}),
		queue:   make(chan delivery, opts.QueueDepth),
	}
}

// Start launches the workers and connects to the broker
func (c *Client) Start(ctx context.Context) error {
	if c.handler == nil {
		return errors.New("bus: no handler")
	}
	if c.opts.Topic == "" {
		return errors.New("bus: no topic")
	}

	mqttOpts := mqtt.NewClientOptions()
	mqttOpts.AddBroker(c.opts.BrokerURL)
	mqttOpts.SetClientID(c.opts.ClientID)
	if c.opts.Username != "" {
		mqttOpts.SetUsername(c.opts.Username)
		mqttOpts.SetPassword(c.opts.Password)
	}
	if c.opts.KeepAlive > 0 {
		mqttOpts.SetKeepAlive(c.opts.KeepAlive)
	}
	if c.opts.ConnectTimeout > 0 {
		mqttOpts.SetConnectTimeout(c.opts.ConnectTimeout)
	}
	mqttOpts.SetPingTimeout(10 * time.Second)
	mqttOpts.SetAutoReconnect(true)
	mqttOpts.SetMaxReconnectInterval(1 * time.Minute)
	// Session state lives in the ledger, so a clean session is fine
	mqttOpts.SetCleanSession(true)
	mqttOpts.SetOrderMatters(false)
	mqttOpts.SetOnConnectHandler(c.onConnect)
	mqttOpts.SetConnectionLostHandler(c.onConnectionLost)
	mqttOpts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		c.logger.Info("Reconnecting to broker")
	})

	c.client = mqtt.NewClient(mqttOpts)
	c.pub = c.client
	c.startWorkers(ctx)

	c.logger.Info("Connecting to broker", logging.Fields{"broker": c.opts.BrokerURL})
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		c.Stop()
		return fmt.Errorf("bus: connect %s: %w", c.opts.BrokerURL, token.Error())
	}
	return nil
}

func (c *Client) startWorkers(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	for i := range c.opts.Workers {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
}

// onConnect runs after every successful connect, including reconnects
func (c *Client) onConnect(client mqtt.Client) {
	c.logger.Info("Connected, subscribing", logging.Fields{"qos": c.opts.QoS})
	token := client.Subscribe(c.opts.Topic, c.opts.QoS, c.messageHandler)
	if token.Wait() && token.Error() != nil {
		c.logger.Error(token.Error(), "Failed to subscribe")
		return
	}
	c.logger.Info("Subscribed")
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	c.logger.Warn("Connection lost, will reconnect", logging.Fields{"error": err.Error()})
}

// messageHandler is the paho callback. It must not block.
func (c *Client) messageHandler(client mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	if c.opts.MaxPayloadBytes > 0 && len(payload) > c.opts.MaxPayloadBytes {
		c.dropped.Add(1)
		c.logger.Warn("Dropping oversize message", logging.Fields{
			"size":  humanize.Bytes(uint64(len(payload))),
			"limit": humanize.Bytes(uint64(c.opts.MaxPayloadBytes)),
		})
		return
	}

	d := delivery{
		topic:    msg.Topic(),
		payload:  append([]byte(nil), payload...),
		received: time.Now(),
	}
	if !c.enqueue(d) {
		c.dropped.Add(1)
		c.logger.Warn("Queue full or closed, dropping message", logging.Fields{"depth": c.opts.QueueDepth})
	}
}

func (c *Client) enqueue(d delivery) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.queue <- d:
		return true
	default:
		return false
	}
}

func (c *Client) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	for d := range c.queue {
		c.process(ctx, d)
	}
	c.logger.Debug("Worker stopped", logging.Fields{"worker": id})
}

func (c *Client) process(ctx context.Context, d delivery) {
	hctx, cancel := context.WithTimeout(ctx, c.opts.HandlerTimeout)
	defer cancel()

	resp, err := c.handler(hctx, d.payload)
	if err != nil {
		c.errored.Add(1)
		c.logger.Error(err, "Handler failed", logging.Fields{
			"queued": time.Since(d.received).Round(time.Millisecond).String(),
		})
		return
	}
	c.handled.Add(1)

	if resp == nil || c.opts.ResultTopic == "" || c.pub == nil {
		return
	}
	token := c.pub.Publish(c.opts.ResultTopic, c.opts.QoS, false, resp)
	if !token.WaitTimeout(publishTimeout) {
		c.logger.Warn("Publish timed out", logging.Fields{"result_topic": c.opts.ResultTopic})
		return
	}
	if err := token.Error(); err != nil {
		c.logger.Error(err, "Failed to publish result", logging.Fields{"result_topic": c.opts.ResultTopic})
	}
}

// IsConnected reports whether the broker connection is up
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Counters returns handled, dropped and failed message counts
func (c *Client) Counters() (handled, dropped, failed uint64) {
	return c.handled.Load(), c.dropped.Load(), c.errored.Load()
}

// Stop unsubscribes, disconnects and waits for queued work to finish.
// Safe to call more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.Info("Stopping bus client")
	if c.client != nil && c.client.IsConnected() {
		c.client.Unsubscribe(c.opts.Topic).WaitTimeout(time.Second)
		c.client.Disconnect(disconnectQuiesceMs)
	}

	c.mu.Lock()
	close(c.queue)
	c.mu.Unlock()
	c.wg.Wait()
	if c.cancel != nil {
		c.cancel()
	}
	c.logger.Info("Bus client stopped")
}
