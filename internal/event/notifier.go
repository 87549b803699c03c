// Package event fans lifecycle events out to external observers. The core
// never holds references to observer callbacks; observers receive events over
// buffered channels whose lifetime they control.
package event

import (
	"sync"
	"sync/atomic"
	"time"

	"geochat/go-geochat-server/internal/model"
)

// Kind discriminates lifecycle events.
type Kind string

const (
	KindParticipantConnected    Kind = "participant_connected"
	KindParticipantDisconnected Kind = "participant_disconnected"
	KindLocationUpdated         Kind = "location_updated"
	KindMessageRouted           Kind = "message_routed"
)

// Event is one observed lifecycle occurrence. Participant is set for
// connect/disconnect events; Sender, Recipient and Content for routed
// messages.
type Event struct {
	Kind        Kind
	Participant model.Participant
	Sender      string
	Recipient   string
	Content     string
	At          time.Time
}

// Notifier distributes events to subscribers. Publish never blocks: a
// subscriber that falls behind loses events rather than stalling the
// publishing execution context.
type Notifier struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Uint64
}

// NewNotifier returns an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Event)}
}

// Subscribe registers a new observer channel with the given buffer size and
// returns it together with a cancel function. Cancel is idempotent and closes
// the channel.
func (n *Notifier) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	ch := make(chan Event, buffer)

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every current subscriber without blocking.
func (n *Notifier) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			n.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were discarded because a subscriber's
// buffer was full.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}
