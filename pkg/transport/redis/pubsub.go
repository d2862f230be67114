package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chieftain/pkg/logger"
	"chieftain/pkg/metrics"
	"chieftain/pkg/protocol"
	"chieftain/pkg/resilience"
	"chieftain/pkg/transport"
)

const channelPrefix = "chieftain:channel:"

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns production defaults for a pub/sub workload.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Connector joins peers to channels backed by Redis pub/sub. Redis delivers
// published messages to every subscriber including the publisher, so the
// connector filters the peer's own messages out before the handler sees them.
type Connector struct {
	client *redis.Client
}

// NewConnector initializes a Redis client with default config.
func NewConnector(addr string) (*Connector, error) {
	return NewConnectorWithConfig(DefaultConfig(addr))
}

// NewConnectorWithConfig initializes a Redis client with custom config.
func NewConnectorWithConfig(cfg Config) (*Connector, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Ping to verify connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Connector{client: client}, nil
}

// Close releases the underlying client. Transports connected through this
// connector stop working afterwards.
func (c *Connector) Close() error {
	return c.client.Close()
}

// Connect subscribes the peer to a channel and starts delivery.
func (c *Connector) Connect(channel string, peerID string, handler transport.Handler) (transport.Transport, error) {
	key := channelPrefix + channel
	sub := c.client.Subscribe(context.Background(), key)

	// Force the subscription onto the wire before we report connected.
	if _, err := sub.Receive(context.Background()); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", key, err)
	}

	t := &pubsubTransport{
		client:  c.client,
		sub:     sub,
		key:     key,
		peerID:  peerID,
		breaker: resilience.NewBreaker("redis-publish", resilience.DefaultBreakerConfig()),
		log:     logger.WithFields(zap.String("component", "redis-transport"), zap.String("channel", channel)),
	}
	go t.receive(handler)
	return t, nil
}

type pubsubTransport struct {
	client  *redis.Client
	sub     *redis.PubSub
	key     string
	peerID  string
	breaker *resilience.Breaker
	log     *zap.Logger
}

func (t *pubsubTransport) receive(handler transport.Handler) {
	// sub.Channel drains until Close, at which point the range ends.
	for raw := range t.sub.Channel() {
		msg, err := protocol.Decode([]byte(raw.Payload))
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

func (t *pubsubTransport) Send(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	err = t.breaker.Do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return t.client.Publish(ctx, t.key, data).Err()
	})
	if err != nil {
		metrics.TransportPublishFailures.WithLabelValues("redis").Inc()
		return fmt.Errorf("failed to publish to %s: %w", t.key, err)
	}
	return nil
}

func (t *pubsubTransport) Close() error {
	if err := t.sub.Close(); err != nil {
		return fmt.Errorf("failed to close subscription: %w", err)
	}
	return nil
}
