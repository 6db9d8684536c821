// Package mqttclient publishes ingest events to an MQTT broker.
package mqttclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/yourorg/traffic-bridge/internal/logger"
	"github.com/yourorg/traffic-bridge/internal/model"
	"github.com/yourorg/traffic-bridge/internal/worker"
)

var ErrPublishTimeout = errors.New("mqtt publish timeout")

type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	ClientID  string
	BaseTopic string
	// PublishTimeout bounds how long Publish waits for the broker.
	PublishTimeout time.Duration
}

type Client struct {
	client  mqtt.Client
	timeout time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect error: %w", err)
	}

	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{client: cli, timeout: timeout}, nil
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

// publisher is the part of Client that EventPublisher needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// EventPublisher sends one JSON event per ingested webhook to
// <base>/webhook. The event is retained so late subscribers see the latest
// state. Publishing happens on a background queue; PublishEvent only fails
// when the queue is full or closed.
type EventPublisher struct {
	pub   publisher
	topic string
	queue *worker.Queue
}

const (
	eventQueueSize = 64
	eventTimeout   = 10 * time.Second
)

func NewEventPublisher(pub publisher, baseTopic string, log *logger.Logger) *EventPublisher {
	base := strings.Trim(baseTopic, "/")
	if base == "" {
		base = "traffic"
	}
	return &EventPublisher{
		pub:   pub,
		topic: base + "/webhook",
		queue: worker.NewQueue("mqtt", eventQueueSize, eventTimeout, log),
	}
}

func (p *EventPublisher) Topic() string { return p.topic }

func (p *EventPublisher) PublishEvent(e model.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	err = p.queue.Submit(func(context.Context) error {
		if err := p.pub.Publish(p.topic, 1, true, b); err != nil {
			return fmt.Errorf("publish %s: %w", p.topic, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	return nil
}

// Close waits for queued events to be handed to the broker.
func (p *EventPublisher) Close(ctx context.Context) error {
	return p.queue.Close(ctx)
}
