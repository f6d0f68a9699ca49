package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jamesprial/upsmon/internal/command"
	"github.com/jamesprial/upsmon/internal/monitor"
)

// DefaultQueueSize bounds the number of snapshots waiting to be published.
const DefaultQueueSize = 16

// publishTimeout bounds how long a single publish waits for the broker.
const publishTimeout = 5 * time.Second

// Compile-time interface check.
var _ monitor.Sink = (*Publisher)(nil)

// publishClient is the part of paho.Client the publisher uses.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// PublisherConfig holds the publisher topics and delivery options.
type PublisherConfig struct {
	TelemetryTopic string
	EventTopic     string
	QoS            byte
	// Retain applies to telemetry only; events are never retained.
	Retain    bool
	QueueSize int
}

// Publisher forwards snapshots and shutdown intents to the broker from its
// own goroutine so that a slow broker never stalls the monitor.
type Publisher struct {
	client publishClient
	config PublisherConfig

	snapshots chan monitor.Snapshot
	events    chan command.ShutdownIntent
}

// NewPublisher returns a Publisher. Call Start to begin publishing.
func NewPublisher(client publishClient, config PublisherConfig) *Publisher {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	return &Publisher{
		client:    client,
		config:    config,
		snapshots: make(chan monitor.Snapshot, config.QueueSize),
		events:    make(chan command.ShutdownIntent, config.QueueSize),
	}
}

// Publish queues s. When the queue is full the snapshot is dropped.
func (p *Publisher) Publish(s monitor.Snapshot) {
	select {
	case p.snapshots <- s:
	default:
		log.Printf("mqtt: queue full, dropping snapshot (epoch %d)", s.Epoch)
	}
}

// ShutdownIntent queues intent for the event topic. It has the signature of
// a dispatcher shutdown observer.
func (p *Publisher) ShutdownIntent(intent command.ShutdownIntent) {
	select {
	case p.events <- intent:
	default:
		log.Printf("mqtt: queue full, dropping shutdown event from %s", intent.Source)
	}
}

// Start publishes queued messages until ctx is cancelled. Events are
// published ahead of pending snapshots.
func (p *Publisher) Start(ctx context.Context) {
	log.Println("mqtt: publisher starting")

	for {
		select {
		case <-ctx.Done():
			log.Println("mqtt: publisher stopping")
			return
		case intent := <-p.events:
			if err := p.publish(p.config.EventTopic, false, intent); err != nil {
				log.Printf("mqtt: %v", err)
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			log.Println("mqtt: publisher stopping")
			return
		case intent := <-p.events:
			if err := p.publish(p.config.EventTopic, false, intent); err != nil {
				log.Printf("mqtt: %v", err)
			}
		case s := <-p.snapshots:
			if err := p.publish(p.config.TelemetryTopic, p.config.Retain, s); err != nil {
				log.Printf("mqtt: %v", err)
			}
		}
	}
}

func (p *Publisher) publish(topic string, retain bool, v any) error {
	if topic == "" {
		return nil
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.config.QoS, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timed out after %s", topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
