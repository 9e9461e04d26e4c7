package status

import (
	"sync"
)

// EventType identifies the kind of update pushed to subscribers.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStatus    EventType = "status"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
)

// Data carries the extraction summary attached to a complete event.
type Data struct {
	StoreName      string  `json:"storeName,omitempty"`
	PurchaseDate   string  `json:"purchaseDate,omitempty"`
	TotalAmount    float64 `json:"totalAmount,omitempty"`
	ItemCount      int     `json:"itemCount"`
	OcrConfidence  float64 `json:"ocrConfidence"`
	ProcessingTime int64   `json:"processingTime"` // milliseconds
}

// Event is one job-state transition pushed to subscribers of a receipt id.
type Event struct {
	Type    EventType `json:"type"`
	Status  string    `json:"status,omitempty"`
	Data    *Data     `json:"data,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Terminal reports whether this event ends the subscription.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// further behind than this loses events rather than stalling the worker.
const subscriberBuffer = 16

// Subscription is one live listener on a receipt id. Its channel is closed
// after a terminal event or an explicit Close.
type Subscription struct {
	receiptID string
	ch        chan Event
	hub       *Hub
	once      sync.Once
}

// Events returns the ordered stream of events for this subscription.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription from the hub. Idempotent.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub is an in-memory publish/subscribe registry keyed by receipt id. The
// worker publishes state transitions without knowing anything about
// transports; sends never block, a slow or absent subscriber simply misses
// events. There is no replay: subscribers joining after a terminal event
// see nothing.
type Hub struct {
	mu   sync.Mutex
	subs map[string][]*Subscription
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string][]*Subscription),
	}
}

// Subscribe registers a listener for a receipt id.
func (h *Hub) Subscribe(receiptID string) *Subscription {
	sub := &Subscription{
		receiptID: receiptID,
		ch:        make(chan Event, subscriberBuffer),
		hub:       h,
	}

	h.mu.Lock()
	h.subs[receiptID] = append(h.subs[receiptID], sub)
	h.mu.Unlock()
	return sub
}

// Publish delivers an event to every subscriber of the receipt id. Delivery
// order is preserved per subscriber; a full buffer drops the event. A
// terminal event closes all subscriptions for the id.
func (h *Hub) Publish(receiptID string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[receiptID] {
		select {
		case sub.ch <- event:
		default:
			// Subscriber is not keeping up; processing must not wait.
		}
	}

	if event.Terminal() {
		for _, sub := range h.subs[receiptID] {
			sub.once.Do(func() { close(sub.ch) })
		}
		delete(h.subs, receiptID)
	}
}

// SubscriberCount returns the number of live subscriptions for a receipt id.
func (h *Hub) SubscriberCount(receiptID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[receiptID])
}

// remove detaches a single subscription and closes its channel.
func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[sub.receiptID]
	for i, existing := range subs {
		if existing == sub {
			h.subs[sub.receiptID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subs[sub.receiptID]) == 0 {
		delete(h.subs, sub.receiptID)
	}
	sub.once.Do(func() { close(sub.ch) })
}
