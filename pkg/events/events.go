package events

import (
	"sync"
	"time"

	"github.com/cuemby/rookery/pkg/metrics"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventLeadershipAcquired EventType = "leadership.acquired"
	EventLeadershipLost     EventType = "leadership.lost"
	EventDiscoveryFailed    EventType = "discovery.failed"
	EventTopologyDiscovered EventType = "topology.discovered"
	EventPrimaryPromoted    EventType = "primary.promoted"
	EventPrimaryDemoted     EventType = "primary.demoted"
	EventPromotionFailed    EventType = "promotion.failed"
	EventNodeUnavailable    EventType = "node.unavailable"
	EventNodeAvailable      EventType = "node.available"
	EventNodeReconciled     EventType = "node.reconciled"
	EventManualFailover     EventType = "failover.manual"
)

// Event represents a failover event
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Node      string            `json:"node,omitempty"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Subscriber receives published events until it is unsubscribed or the
// broker stops, at which point the channel is closed
type Subscriber chan *Event

const (
	queueSize      = 100
	subscriberSize = 50
)

// Broker fans published events out to subscribers. A subscriber that falls
// behind loses events rather than stalling the publisher.
type Broker struct {
	mu   sync.RWMutex
	subs map[Subscriber]struct{}

	queue    chan *Event
	stop     chan struct{}
	stopOnce sync.Once
}

// NewBroker creates a broker; call Start before publishing
func NewBroker() *Broker {
	return &Broker{
		subs:  make(map[Subscriber]struct{}),
		queue: make(chan *Event, queueSize),
		stop:  make(chan struct{}),
	}
}

// Start runs the distribution loop
func (b *Broker) Start() {
	go func() {
		for {
			select {
			case ev := <-b.queue:
				b.deliver(ev)
			case <-b.stop:
				return
			}
		}
	}()
}

// Stop ends distribution and closes every subscription. Events still queued
// are discarded.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)

		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subs {
			delete(b.subs, sub)
			close(sub)
		}
	})
}

// Subscribe registers a new buffered subscription
func (b *Broker) Subscribe() Subscriber {
	sub := make(Subscriber, subscriberSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe closes sub; unknown subscriptions are ignored
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub)
	}
}

// SubscriberCount returns the number of open subscriptions
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish stamps event with an ID and time when missing and queues it. It
// blocks while the queue is full unless the broker stops. A nil broker drops
// the event.
func (b *Broker) Publish(event *Event) {
	if b == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.queue <- event:
	case <-b.stop:
	}
}

func (b *Broker) deliver(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub <- ev:
		default:
			metrics.EventsDropped.WithLabelValues(string(ev.Type)).Inc()
		}
	}
}
