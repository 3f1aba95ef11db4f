// Package notify implements the notification bus of spec §4.5: named
// streams, (session, stream, filter) subscriptions, and best-effort
// delivery that drops events for a slow subscriber rather than blocking
// the publisher.
package notify

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencfgd/confd/internal/mgmterror"
)

// Event is one published notification.
type Event struct {
	Stream  string
	Seq     uint64
	Time    time.Time
	Payload map[string]interface{}
}

// Subscription is a live (session, stream, filter) registration. Events
// matching Stream are pushed to Events; a full channel drops the event
// and increments Dropped rather than blocking Publish.
type Subscription struct {
	ID        int64
	SessionID int64
	Stream    string
	Filter    string
	Events    chan Event
	Dropped   int64
}

func (s *Subscription) recordDropped() {
	atomic.AddInt64(&s.Dropped, 1)
}

// Bus fans events out to subscribers. Only the path-expression filter
// kind is accepted (spec §4.5: "Filter semantics: path-expression only;
// anything other than the path-filter kind is refused"); this package
// treats Filter as an opaque path-expression string and does no
// filtering of its own beyond stream-name matching: the expression is
// stored on the Subscription and never evaluated here.
type Bus struct {
	mu      sync.Mutex
	nextID  int64
	nextSeq map[string]uint64
	subs    map[int64]*Subscription
	byStream map[string][]*Subscription
}

// NewBus constructs an empty notification bus.
func NewBus() *Bus {
	return &Bus{
		nextSeq:  map[string]uint64{},
		subs:     map[int64]*Subscription{},
		byStream: map[string][]*Subscription{},
	}
}

// FilterKindXPath is the only filter kind accepted by create-subscription.
const FilterKindXPath = "xpath"

// Subscribe registers sessionID for stream, with a buffered delivery
// channel of the given depth. filterKind must be FilterKindXPath or
// empty (no filter); anything else is refused per spec §4.5.
func Subscribe(bus *Bus, sessionID int64, stream, filterKind, filter string, bufferDepth int) (*Subscription, error) {
	if filterKind != "" && filterKind != FilterKindXPath {
		err := mgmterror.NewOperationNotSupportedApplicationError()
		err.Message = fmt.Sprintf("unsupported filter kind %q", filterKind)
		return nil, err
	}
	if bufferDepth <= 0 {
		bufferDepth = 16
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.nextID++
	sub := &Subscription{
		ID:        bus.nextID,
		SessionID: sessionID,
		Stream:    stream,
		Filter:    filter,
		Events:    make(chan Event, bufferDepth),
	}
	bus.subs[sub.ID] = sub
	bus.byStream[stream] = append(bus.byStream[stream], sub)
	return sub, nil
}

// Unsubscribe removes one subscription by id.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	lst := b.byStream[sub.Stream]
	for i, s := range lst {
		if s.ID == id {
			b.byStream[sub.Stream] = append(lst[:i], lst[i+1:]...)
			break
		}
	}
}

// UnsubscribeSession removes every subscription owned by sessionID,
// called when a session is destroyed (spec §4.1/§5).
func (b *Bus) UnsubscribeSession(sessionID int64) {
	b.mu.Lock()
	var toRemove []int64
	for id, sub := range b.subs {
		if sub.SessionID == sessionID {
			toRemove = append(toRemove, id)
		}
	}
	b.mu.Unlock()
	for _, id := range toRemove {
		b.Unsubscribe(id)
	}
}

// Publish delivers an event to every current subscriber of stream.
// Delivery never blocks: a subscriber whose buffer is full has the
// event dropped and its Dropped counter incremented instead.
func (b *Bus) Publish(stream string, payload map[string]interface{}) {
	b.mu.Lock()
	b.nextSeq[stream]++
	seq := b.nextSeq[stream]
	subs := append([]*Subscription{}, b.byStream[stream]...)
	b.mu.Unlock()

	ev := Event{Stream: stream, Seq: seq, Time: time.Now(), Payload: payload}
	for _, sub := range subs {
		select {
		case sub.Events <- ev:
		default:
			sub.recordDropped()
		}
	}
}

// Subscriptions returns a snapshot of every live subscription, used by
// introspection/diagnostics.
func (b *Bus) Subscriptions() []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s)
	}
	return out
}
