package asyncdelivery

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMessage struct {
	body       []byte
	persistent bool
}

type fakeQueue struct {
	messages   []fakeMessage
	deliveries chan amqp.Delivery
}

type fakeBinding struct {
	queue    string
	exchange string
	key      string
}

// fakeChannel implements Channel in memory: direct exchanges route by binding
// key, fanout exchanges copy to every bound queue. restart drops transient
// messages the way a broker restart would.
type fakeChannel struct {
	mu        sync.Mutex
	exchanges map[string]string
	queues    map[string]*fakeQueue
	bindings  []fakeBinding
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		exchanges: make(map[string]string),
		queues:    make(map[string]*fakeQueue),
	}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges[name] = kind
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queues[name]; !ok {
		f.queues[name] = &fakeQueue{deliveries: make(chan amqp.Delivery, 16)}
	}
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings = append(f.bindings, fakeBinding{queue: name, exchange: exchange, key: key})
	return nil
}

func (f *fakeChannel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	if q, ok := f.queues[name]; ok {
		n = len(q.messages)
		delete(f.queues, name)
	}
	kept := f.bindings[:0]
	for _, b := range f.bindings {
		if b.queue != name {
			kept = append(kept, b)
		}
	}
	f.bindings = kept
	return n, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	kind := f.exchanges[exchange]
	for _, b := range f.bindings {
		if b.exchange != exchange {
			continue
		}
		if kind == "direct" && b.key != key {
			continue
		}
		if q, ok := f.queues[b.queue]; ok {
			q.messages = append(q.messages, fakeMessage{
				body:       msg.Body,
				persistent: msg.DeliveryMode == amqp.Persistent,
			})
		}
	}
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q, ok := f.queues[queue]
	if !ok {
		return nil, amqp.ErrClosed
	}
	return q.deliveries, nil
}

func (f *fakeChannel) hasQueue(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.queues[name]
	return ok
}

func (f *fakeChannel) stored(queue string) []fakeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	q, ok := f.queues[queue]
	if !ok {
		return nil
	}
	out := make([]fakeMessage, len(q.messages))
	copy(out, q.messages)
	return out
}

func (f *fakeChannel) deliver(t *testing.T, queue string, d amqp.Delivery) {
	t.Helper()

	f.mu.Lock()
	q, ok := f.queues[queue]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("deliver to unknown queue %q", queue)
	}
	q.deliveries <- d
}

func (f *fakeChannel) closeDeliveries(queue string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.queues[queue]; ok {
		close(q.deliveries)
	}
}

// restart simulates a broker restart: durable queues survive, transient
// messages do not.
func (f *fakeChannel) restart() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, q := range f.queues {
		kept := q.messages[:0]
		for _, m := range q.messages {
			if m.persistent {
				kept = append(kept, m)
			}
		}
		q.messages = kept
	}
}

// fakeAck records acknowledgments issued against deliveries.
type fakeAck struct {
	mu      sync.Mutex
	acks    []uint64
	nacks   []uint64
	requeue []bool
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, tag)
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAck) acked(tag uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.acks {
		if t == tag {
			return true
		}
	}
	return false
}

func (a *fakeAck) nacked(tag uint64) (bool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, t := range a.nacks {
		if t == tag {
			return true, a.requeue[i]
		}
	}
	return false, false
}

type deadEntry struct {
	queue   string
	payload []byte
	cause   error
}

type recordingSink struct {
	mu      sync.Mutex
	entries []deadEntry
}

func (s *recordingSink) DeadLetter(ctx context.Context, queue string, payload []byte, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, deadEntry{queue: queue, payload: payload, cause: cause})
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *recordingSink) last() deadEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[len(s.entries)-1]
}
