package asyncdelivery

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// stopJoinTimeout bounds how long Stop waits for the consumption loop.
const stopJoinTimeout = 2 * time.Second

// MessageHandler receives decoded queued chat messages.
type MessageHandler func(AsyncMessage) error

// LocationHandler receives decoded proximity broadcasts.
type LocationHandler func(LocationUpdate) error

// DeadLetterSink receives payloads that must not be requeued: undecodable
// bodies and messages whose handler failed after redelivery.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, queue string, payload []byte, cause error)
}

// Consumer runs one participant's consumption loop over both of its queues
// with manual acknowledgment.
type Consumer struct {
	logger      *slog.Logger
	ch          Channel
	name        string
	onMessage   MessageHandler
	onLocation  LocationHandler
	deadLetters DeadLetterSink

	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer builds a consumer for the named participant. Handlers and the
// dead-letter sink may be nil.
func (s *Subsystem) NewConsumer(name string, onMessage MessageHandler, onLocation LocationHandler, deadLetters DeadLetterSink) *Consumer {
	return &Consumer{
		logger:      s.logger.With("participant", name),
		ch:          s.ch,
		name:        name,
		onMessage:   onMessage,
		onLocation:  onLocation,
		deadLetters: deadLetters,
	}
}

// Start registers the consumer on both queues and launches the consumption
// loop. The returned channel is closed when the loop ends; a lost broker
// connection is sent on it as a *BrokerError.
func (c *Consumer) Start(ctx context.Context) (<-chan error, error) {
	messages, err := c.ch.Consume(MessagesQueue(c.name), "", false, false, false, false, nil)
	if err != nil {
		return nil, brokerErr("consume messages queue", err)
	}
	locations, err := c.ch.Consume(LocationQueue(c.name), "", false, false, false, false, nil)
	if err != nil {
		return nil, brokerErr("consume location queue", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	errCh := make(chan error, 1)

	go func() {
		defer close(c.done)
		defer close(errCh)
		c.run(ctx, messages, locations, errCh)
	}()

	c.logger.Info("async consumption started")
	return errCh, nil
}

// Stop cancels the consumption loop and joins it with a bounded timeout.
func (c *Consumer) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()

	select {
	case <-c.done:
	case <-time.After(stopJoinTimeout):
		c.logger.Warn("consumer loop did not stop within timeout")
	}
}

func (c *Consumer) run(ctx context.Context, messages, locations <-chan amqp.Delivery, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-messages:
			if !ok {
				errCh <- &BrokerError{Op: "messages consumption", Err: amqp.ErrClosed}
				return
			}
			c.handleMessage(ctx, d)
		case d, ok := <-locations:
			if !ok {
				errCh <- &BrokerError{Op: "location consumption", Err: amqp.ErrClosed}
				return
			}
			c.handleLocation(ctx, d)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, d amqp.Delivery) {
	var msg AsyncMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		// An undecodable body would loop forever if requeued; discard it
		// into the dead-letter sink instead.
		c.logger.Warn("discarding malformed async message", "error", err)
		c.deadLetter(ctx, MessagesQueue(c.name), d.Body, err)
		c.ack(d)
		return
	}

	if c.onMessage != nil {
		if err := c.onMessage(msg); err != nil {
			c.retryOrDiscard(ctx, MessagesQueue(c.name), d, err)
			return
		}
	}
	c.ack(d)
}

func (c *Consumer) handleLocation(ctx context.Context, d amqp.Delivery) {
	var upd LocationUpdate
	if err := json.Unmarshal(d.Body, &upd); err != nil {
		c.logger.Warn("discarding malformed location update", "error", err)
		c.deadLetter(ctx, LocationQueue(c.name), d.Body, err)
		c.ack(d)
		return
	}

	// Every subscriber receives every broadcast, including its own. A
	// self-origin update is acknowledged and discarded without invoking the
	// handler.
	if upd.Usuario.Nome == c.name {
		c.ack(d)
		return
	}

	if c.onLocation != nil {
		if err := c.onLocation(upd); err != nil {
			c.retryOrDiscard(ctx, LocationQueue(c.name), d, err)
			return
		}
	}
	c.ack(d)
}

// retryOrDiscard requeues a first-time handler failure and dead-letters a
// redelivered one, so a permanently failing message cannot loop.
func (c *Consumer) retryOrDiscard(ctx context.Context, queue string, d amqp.Delivery, cause error) {
	if !d.Redelivered {
		c.logger.Warn("handler failed, requeueing", "queue", queue, "error", cause)
		if err := d.Nack(false, true); err != nil {
			c.logger.Warn("nack failed", "error", err)
		}
		return
	}

	c.logger.Warn("handler failed on redelivery, dead-lettering", "queue", queue, "error", cause)
	c.deadLetter(ctx, queue, d.Body, cause)
	c.ack(d)
}

func (c *Consumer) deadLetter(ctx context.Context, queue string, payload []byte, cause error) {
	if c.deadLetters != nil {
		c.deadLetters.DeadLetter(ctx, queue, payload, cause)
	}
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.logger.Warn("ack failed", "error", err)
	}
}
