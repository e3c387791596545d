package engine

import (
	"sync"

	"github.com/dmreiter/foreman/internal/tracker"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// EventBroker fans id-scoped tracker events out to subscribers for real-time
// streaming. It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a command finished) receive a closed channel instead of
// blocking forever. A marker lives until Forget drops it, which the engine
// ties to the command record leaving the tracker history, so broker memory
// is bounded by the same retention policy. Topics without subscribers are
// removed as soon as the last one leaves.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan tracker.Event
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel that receives events for the given command and
// an unsubscribe function. If the command has already finished (Close was
// called), the returned channel is immediately closed.
func (b *EventBroker) Subscribe(commandID string) (<-chan tracker.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[commandID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan tracker.Event)}
		b.topics[commandID] = t
	}

	ch := make(chan tracker.Event, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
		// Drop the topic once it is empty and not a closed marker. The map
		// check keeps a stale unsubscribe from removing a successor topic
		// created under the same id.
		if len(t.subs) == 0 && !t.closed && b.topics[commandID] == t {
			delete(b.topics, commandID)
		}
	}
}

// Publish sends an event to all subscribers of the given command.
// Events are dropped for subscribers whose buffers are full.
func (b *EventBroker) Publish(commandID string, ev tracker.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[commandID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop event for slow subscribers to avoid blocking the engine.
		}
	}
}

// Close signals that no more events will be published for the given command.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *EventBroker) Close(commandID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[commandID]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[commandID] = &eventTopic{subs: make(map[int]chan tracker.Event), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Forget removes the topic for the given command outright, closing any
// remaining subscriber channels. Called when the command's record leaves the
// tracker history; past that point a subscriber would be told the command
// does not exist, so not even the closed marker is needed.
func (b *EventBroker) Forget(commandID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[commandID]
	if !ok {
		return
	}
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
	delete(b.topics, commandID)
}
