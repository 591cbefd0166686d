package natsclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/jacobfgrant/anejo/errors"
)

// Outcome tells the queue consumer what to do with a delivered message
type Outcome int

const (
	// Done acknowledges the message; it will not be redelivered
	Done Outcome = iota
	// Requeue negatively acknowledges the message for redelivery,
	// optionally after a delay
	Requeue
	// Discard terminates the message; redelivery cannot fix it
	Discard
)

// Result is the handler's verdict on one delivery
type Result struct {
	Outcome Outcome
	Delay   time.Duration // Requeue only; zero means redeliver immediately
}

// Ack returns a Result acknowledging the message
func Ack() Result { return Result{Outcome: Done} }

// Retry returns a Result requeueing the message after delay
func Retry(delay time.Duration) Result { return Result{Outcome: Requeue, Delay: delay} }

// Drop returns a Result discarding the message permanently
func Drop() Result { return Result{Outcome: Discard} }

// ResultFromError maps an error onto a queue outcome using the error
// taxonomy: transient errors requeue, invalid input is discarded.
func ResultFromError(err error) Result {
	if err == nil {
		return Ack()
	}
	if errors.IsInvalid(err) {
		return Drop()
	}
	return Retry(0)
}

// MsgHandler processes one queue delivery and reports what to do with it
type MsgHandler func(ctx context.Context, data []byte) Result

// PublishJSON marshals payload and publishes it to a JetStream subject
func (c *Client) PublishJSON(ctx context.Context, subject string, payload any) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.WrapInvalid(err, "Client", "PublishJSON", "marshal payload")
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "PublishJSON", "publish to "+subject)
	}
	return nil
}

// ConsumeQueue creates a durable consumer on a work-queue stream and starts
// delivering messages to handler. Delivery is at-least-once: the consumer
// acks, naks, or terms each message according to the handler's Result.
func (c *Client) ConsumeQueue(ctx context.Context, streamName, durable string, handler MsgHandler) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:   durable,
		AckPolicy: jetstream.AckExplicitPolicy,
		AckWait:   2 * time.Minute,
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "ConsumeQueue", "create consumer "+durable)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		result := handler(msgCtx, msg.Data())
		switch result.Outcome {
		case Done:
			if err := msg.Ack(); err != nil {
				c.logger.Warn("Failed to ack message", "stream", streamName, "error", err)
			}
		case Requeue:
			var err error
			if result.Delay > 0 {
				err = msg.NakWithDelay(result.Delay)
			} else {
				err = msg.Nak()
			}
			if err != nil {
				c.logger.Warn("Failed to nak message", "stream", streamName, "error", err)
			}
		case Discard:
			if err := msg.Term(); err != nil {
				c.logger.Warn("Failed to term message", "stream", streamName, "error", err)
			}
		}
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "ConsumeQueue", "consume "+streamName)
	}

	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()
	if c.closed.Load() {
		cc.Stop()
		return errors.WrapInvalid(errors.New("client is closed"),
			"Client", "ConsumeQueue", "register consumer")
	}
	if existing, ok := c.consumers[durable]; ok {
		existing.Stop()
	}
	c.consumers[durable] = cc

	return nil
}
