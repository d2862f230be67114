package amqp

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"chieftain/pkg/logger"
	"chieftain/pkg/metrics"
	"chieftain/pkg/protocol"
	"chieftain/pkg/resilience"
	"chieftain/pkg/transport"
)

const exchangePrefix = "chieftain."

// Connector joins peers to channels backed by a RabbitMQ fanout exchange.
// Each channel maps to one exchange; each peer gets its own auto-deleted
// queue bound to it, so every peer sees every publish. Own publishes come
// back through the queue and are filtered out by sender id.
type Connector struct {
	conn *amqp.Connection
}

// NewConnector dials the broker.
func NewConnector(url string) (*Connector, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	return &Connector{conn: conn}, nil
}

// Close tears down the broker connection and every transport on it.
func (c *Connector) Close() error {
	return c.conn.Close()
}

// Connect declares the channel's fanout exchange, binds a private queue and
// starts delivery.
func (c *Connector) Connect(channel string, peerID string, handler transport.Handler) (transport.Transport, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	exchange := exchangePrefix + channel
	err = ch.ExchangeDeclare(
		exchange,
		"fanout",
		false, // durable: election traffic is transient
		true,  // auto-delete when unused
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	// Private queue per peer; auto-generated name, gone when we disconnect.
	queue, err := ch.QueueDeclare(
		"",    // name (auto-generated)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare queue for %s: %w", exchange, err)
	}

	if err := ch.QueueBind(queue.Name, "", exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to bind queue %s to %s: %w", queue.Name, exchange, err)
	}

	deliveries, err := ch.Consume(
		queue.Name,
		"",    // consumer tag (auto-generated)
		true,  // auto-ack: best-effort delivery, no redelivery wanted
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to start consuming from %s: %w", queue.Name, err)
	}

	t := &fanoutTransport{
		ch:       ch,
		exchange: exchange,
		peerID:   peerID,
		breaker:  resilience.NewBreaker("amqp-publish", resilience.DefaultBreakerConfig()),
		log:      logger.WithFields(zap.String("component", "amqp-transport"), zap.String("channel", channel)),
	}
	go t.receive(deliveries, handler)
	return t, nil
}

type fanoutTransport struct {
	ch       *amqp.Channel
	exchange string
	peerID   string
	breaker  *resilience.Breaker
	log      *zap.Logger
}

func (t *fanoutTransport) receive(deliveries <-chan amqp.Delivery, handler transport.Handler) {
	// The deliveries channel closes when the amqp channel does.
	for d := range deliveries {
		msg, err := protocol.Decode(d.Body)
		if err != nil {
			t.log.Warn("dropping undecodable message", zap.Error(err))
			continue
		}
		if msg.SenderID == t.peerID {
			continue
		}
		handler(msg)
	}
}

func (t *fanoutTransport) Send(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	err = t.breaker.Do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return t.ch.PublishWithContext(ctx,
			t.exchange,
			"",    // routing key ignored by fanout
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType: "application/json",
				Body:        data,
			})
	})
	if err != nil {
		metrics.TransportPublishFailures.WithLabelValues("amqp").Inc()
		return fmt.Errorf("failed to publish to %s: %w", t.exchange, err)
	}
	return nil
}

func (t *fanoutTransport) Close() error {
	if err := t.ch.Close(); err != nil {
		return fmt.Errorf("failed to close amqp channel: %w", err)
	}
	return nil
}
