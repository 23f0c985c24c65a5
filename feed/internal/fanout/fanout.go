// Package fanout provides a pub/sub hub for distributing normalized
// ticks and lifecycle events to downstream consumers.
package fanout

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/olebedev/emitter"

	"go_tickstream/feed/pkg/types"
)

// Topic names used on the emitter bus.
const (
	TopicTick           = "tick"
	TopicConnectionLost = "lifecycle:connection_lost"
	TopicSignal         = "signal"
	TopicNews           = "news"
)

// Hub manages per-symbol subscriber lists and an emitter bus for
// wildcard listeners. Publishing never blocks: a subscriber whose
// buffer is full loses the message, and one that keeps falling behind
// is disconnected so backpressure cannot reach the decode path.
type Hub struct {
	emitter           *emitter.Emitter
	topics            map[string]*Topic
	mu                sync.RWMutex
	bufferSize        int
	slowThreshold     int
	activeSubscribers atomic.Int64
	droppedMessages   atomic.Int64
	onDrop            func(symbol string)
}

// Topic holds the subscribers of a single symbol.
type Topic struct {
	symbol      string
	subscribers map[string]*Subscriber
	mu          sync.RWMutex
}

// Subscriber is one downstream consumer of a symbol's ticks.
type Subscriber struct {
	ID          string
	SendChan    chan types.Tick
	ConnectTime time.Time
	LastSend    time.Time
	Dropped     atomic.Int64
	closed      atomic.Bool
}

// NewHub creates a fanout hub.
func NewHub(bufferSize, slowThreshold int) *Hub {
	return &Hub{
		emitter:       emitter.New(uint(bufferSize)),
		topics:        make(map[string]*Topic),
		bufferSize:    bufferSize,
		slowThreshold: slowThreshold,
	}
}

// OnDrop registers a hook observing dropped messages, e.g. for
// metrics. Must be set before publishing begins.
func (h *Hub) OnDrop(fn func(symbol string)) {
	h.onDrop = fn
}

// CreateSubscriber creates a subscriber with a buffered send channel.
func (h *Hub) CreateSubscriber(id string) *Subscriber {
	return &Subscriber{
		ID:          id,
		SendChan:    make(chan types.Tick, h.bufferSize),
		ConnectTime: time.Now(),
		LastSend:    time.Now(),
	}
}

// Subscribe adds a subscriber to a symbol topic.
func (h *Hub) Subscribe(symbol string, sub *Subscriber) {
	h.mu.Lock()
	topic, ok := h.topics[symbol]
	if !ok {
		topic = &Topic{
			symbol:      symbol,
			subscribers: make(map[string]*Subscriber),
		}
		h.topics[symbol] = topic
	}
	h.mu.Unlock()

	topic.mu.Lock()
	topic.subscribers[sub.ID] = sub
	topic.mu.Unlock()

	h.activeSubscribers.Add(1)
}

// Unsubscribe detaches a subscriber from a symbol topic. The send
// channel stays open; a subscriber on several topics keeps receiving
// the others, and one on no topics can still attach again. Ending the
// stream is CloseSubscriber's job.
func (h *Hub) Unsubscribe(symbol, subID string) {
	h.mu.RLock()
	topic, ok := h.topics[symbol]
	h.mu.RUnlock()

	if !ok {
		return
	}

	topic.mu.Lock()
	if _, exists := topic.subscribers[subID]; exists {
		delete(topic.subscribers, subID)
		h.activeSubscribers.Add(-1)
	}
	topic.mu.Unlock()
}

// CloseSubscriber ends a subscriber's stream by closing its send
// channel. Safe to call more than once. Callers tearing down a
// session unsubscribe its symbols first so no publisher still holds
// the channel.
func (h *Hub) CloseSubscriber(sub *Subscriber) {
	if sub.closed.CompareAndSwap(false, true) {
		close(sub.SendChan)
	}
}

// PublishTick delivers a tick to every subscriber of its symbol and to
// emitter listeners on the tick topic.
func (h *Hub) PublishTick(tick types.Tick) {
	h.mu.RLock()
	topic, ok := h.topics[tick.Symbol]
	h.mu.RUnlock()

	if ok {
		topic.mu.RLock()
		subscribers := make([]*Subscriber, 0, len(topic.subscribers))
		for _, sub := range topic.subscribers {
			subscribers = append(subscribers, sub)
		}
		topic.mu.RUnlock()

		for _, sub := range subscribers {
			if sub.closed.Load() {
				continue
			}
			select {
			case sub.SendChan <- tick:
				sub.LastSend = time.Now()
			default:
				sub.Dropped.Add(1)
				h.droppedMessages.Add(1)
				if h.onDrop != nil {
					h.onDrop(tick.Symbol)
				}

				if sub.Dropped.Load() > int64(h.slowThreshold) {
					h.Unsubscribe(tick.Symbol, sub.ID)
					h.CloseSubscriber(sub)
				}
			}
		}
	}

	h.emitter.Emit(TopicTick, tick)
}

// PublishConnectionLost announces terminal reconnect failure to
// lifecycle listeners.
func (h *Hub) PublishConnectionLost() {
	h.emitter.Emit(TopicConnectionLost)
}

// PublishSignal delivers a trading signal to emitter listeners.
func (h *Hub) PublishSignal(sig types.Signal) {
	h.emitter.Emit(TopicSignal, sig)
}

// PublishArticle delivers a news article to emitter listeners.
func (h *Hub) PublishArticle(article types.Article) {
	h.emitter.Emit(TopicNews, article)
}

// On registers a listener for events on a pattern (supports wildcards).
func (h *Hub) On(pattern string, middleware ...func(*emitter.Event)) <-chan emitter.Event {
	return h.emitter.On(pattern, middleware...)
}

// Off removes a listener for events on a pattern.
func (h *Hub) Off(pattern string, ch <-chan emitter.Event) {
	h.emitter.Off(pattern, ch)
}

// GetActiveSymbols returns all symbols with at least one subscriber.
func (h *Hub) GetActiveSymbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	symbols := make([]string, 0, len(h.topics))
	for symbol, topic := range h.topics {
		topic.mu.RLock()
		if len(topic.subscribers) > 0 {
			symbols = append(symbols, symbol)
		}
		topic.mu.RUnlock()
	}
	return symbols
}

// Stats returns hub statistics.
type Stats struct {
	ActiveTopics      int
	ActiveSubscribers int64
	DroppedMessages   int64
}

// GetStats returns current hub statistics.
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	topicCount := len(h.topics)
	h.mu.RUnlock()

	return Stats{
		ActiveTopics:      topicCount,
		ActiveSubscribers: h.activeSubscribers.Load(),
		DroppedMessages:   h.droppedMessages.Load(),
	}
}
