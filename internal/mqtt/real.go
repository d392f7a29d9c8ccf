package mqtt

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/openpsg/pressure-sensor/internal/control"
	"github.com/openpsg/pressure-sensor/internal/sampler"
)

// DefaultBufferSize is the number of windows kept while disconnected:
// five minutes at one window per second.
const DefaultBufferSize = 300

const publishTimeout = 5 * time.Second

// replayBatch bounds how many buffered windows are taken per lock hold, so
// windows arriving during a replay queue behind it.
const replayBatch = 50

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	BufferSize int

	// Mailbox, if set, receives commands from TopicControl.
	Mailbox *control.Mailbox

	// OnConnectionChange, if set, is called when the connection goes up or down.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an actual MQTT broker. Windows published
// while the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	opts   Options

	mu        sync.Mutex
	buffer    *windowBuffer
	connected bool // set only once the buffer has been replayed
	connects  int
	epoch     int // bumped on every connect and connection loss
}

// message is one outgoing MQTT publish.
type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newPublisher(opts Options) *RealPublisher {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	return &RealPublisher{
		opts:   opts,
		buffer: newWindowBuffer(opts.BufferSize),
	}
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	p := newPublisher(opts)

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "connection lost"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// Notify publishes a window on TopicValues at QoS 0. While disconnected
// the window is buffered and nil is returned.
func (p *RealPublisher) Notify(ctx context.Context, v sampler.Values) error {
	p.mu.Lock()
	if !p.connected {
		p.buffer.add(v)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return p.publishValues(ctx, v)
}

func (p *RealPublisher) publishValues(ctx context.Context, v sampler.Values) error {
	payload, err := FormatValues(v)
	if err != nil {
		return fmt.Errorf("format values: %w", err)
	}
	return p.publish(ctx, message{topic: TopicValues, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.publish(context.Background(), message{
		topic:    TopicSystem,
		payload:  payload,
		qos:      1,
		retained: event.Retained,
	})
}

func (p *RealPublisher) publish(ctx context.Context, msg message) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of windows waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Dropped returns how many buffered windows were overwritten before a
// connection came back.
func (p *RealPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.dropped
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

// onConnect runs on every (re)connection: it subscribes to commands,
// replays buffered windows oldest first and announces a reconnect. Live
// windows keep going to the buffer until the replay has caught up.
func (p *RealPublisher) onConnect(client paho.Client) {
	p.mu.Lock()
	p.connects++
	p.epoch++
	epoch := p.epoch
	reconnect := p.connects > 1
	pending := p.buffer.len()
	p.mu.Unlock()

	log.Printf("mqtt: connected to %s", p.opts.Broker)

	if p.opts.Mailbox != nil {
		token := client.Subscribe(TopicControl, 1, p.handleControl)
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			log.Printf("mqtt: subscribe %s: %v", TopicControl, token.Error())
		}
	}

	if pending > 0 {
		log.Printf("mqtt: replaying %d buffered windows", pending)
	}
	if !p.replay(epoch) {
		log.Printf("mqtt: connection lost during replay")
		return
	}
	if p.opts.OnConnectionChange != nil {
		p.opts.OnConnectionChange(true)
	}

	if reconnect {
		if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED", Retained: true}); err != nil {
			log.Printf("mqtt: %v", err)
		}
	}
}

// replay publishes the buffer in batches and marks the publisher connected
// in the same critical section that finds it empty. It reports false if
// the connection went away first.
func (p *RealPublisher) replay(epoch int) bool {
	for {
		p.mu.Lock()
		if p.epoch != epoch {
			p.mu.Unlock()
			return false
		}
		batch := p.buffer.take(replayBatch)
		if len(batch) == 0 {
			p.connected = true
			p.mu.Unlock()
			return true
		}
		p.mu.Unlock()

		for _, v := range batch {
			if err := p.publishValues(context.Background(), v); err != nil {
				log.Printf("mqtt: replay %s: %v", v.Timestamp, err)
			}
		}
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.epoch++
	p.mu.Unlock()

	log.Printf("mqtt: connection lost: %v", err)
	if p.opts.OnConnectionChange != nil {
		p.opts.OnConnectionChange(false)
	}
}

func (p *RealPublisher) handleControl(_ paho.Client, msg paho.Message) {
	sig, err := ParseCommand(msg.Payload())
	if err != nil {
		log.Printf("mqtt: control: %v", err)
		return
	}
	log.Printf("mqtt: control: %s", sig)
	p.opts.Mailbox.Send(sig)
}
