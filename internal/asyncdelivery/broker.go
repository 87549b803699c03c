// Package asyncdelivery provides queued at-least-once delivery and proximity
// broadcast over an AMQP broker. It owns the exchange/queue topology, the
// persistent publishers, and the per-participant consumption loops. It never
// reconnects on its own; broker failures are surfaced as *BrokerError and the
// application layer decides whether to retry.
package asyncdelivery

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange names. Both are durable; the direct exchange routes by recipient
// name, the fanout exchange copies every broadcast to all bound queues.
const (
	MessagesExchange = "geochat_messages"
	LocationExchange = "geochat_location"
)

// MessagesQueue names the durable point-to-point queue a participant owns
// while joined to async delivery.
func MessagesQueue(name string) string {
	return "user_" + name + "_messages"
}

// LocationQueue names the durable broadcast queue a participant owns while
// joined to async delivery.
func LocationQueue(name string) string {
	return "user_" + name + "_location"
}

// BrokerError reports a topology or channel failure in the delivery
// subsystem.
type BrokerError struct {
	Op  string
	Err error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker: %s: %v", e.Op, e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

func brokerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BrokerError{Op: op, Err: err}
}

// Channel is the slice of an AMQP channel the subsystem uses. *amqp.Channel
// satisfies it; tests substitute a fake.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Subsystem bundles the topology manager and publisher over one channel.
type Subsystem struct {
	logger *slog.Logger
	conn   *amqp.Connection
	ch     Channel
}

// Dial connects to the broker at url, opens a channel, and declares the
// exchange topology.
func Dial(logger *slog.Logger, url string) (*Subsystem, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, brokerErr("dial", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, brokerErr("open channel", err)
	}

	s := &Subsystem{logger: logger, conn: conn, ch: ch}
	if err := s.DeclareTopology(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// New builds a subsystem over an existing channel. Used by tests.
func New(logger *slog.Logger, ch Channel) *Subsystem {
	return &Subsystem{logger: logger, ch: ch}
}

// Close releases the broker connection.
func (s *Subsystem) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return brokerErr("close", err)
	}
	return nil
}
