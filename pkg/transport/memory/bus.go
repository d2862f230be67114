package memory

import (
	"sync"

	"chieftain/pkg/protocol"
	"chieftain/pkg/transport"
)

const deliveryBuffer = 256

// Bus is an in-process broadcast bus keyed by channel name. Peers sharing a
// Bus and a channel name see each other's messages; a peer never sees its
// own. Delivery happens on a per-connection goroutine, so a peer sending
// while handling a message cannot deadlock against its recipients.
type Bus struct {
	mu       sync.Mutex
	channels map[string]map[*conn]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		channels: make(map[string]map[*conn]struct{}),
	}
}

// Connect attaches a peer to a channel and starts delivering messages from
// other peers to the handler.
func (b *Bus) Connect(channel string, peerID string, handler transport.Handler) (transport.Transport, error) {
	c := &conn{
		bus:     b,
		channel: channel,
		peerID:  peerID,
		handler: handler,
		inbox:   make(chan *protocol.Message, deliveryBuffer),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	peers, ok := b.channels[channel]
	if !ok {
		peers = make(map[*conn]struct{})
		b.channels[channel] = peers
	}
	peers[c] = struct{}{}
	b.mu.Unlock()

	go c.dispatch()
	return c, nil
}

type conn struct {
	bus     *Bus
	channel string
	peerID  string
	handler transport.Handler
	inbox   chan *protocol.Message
	done    chan struct{}

	closeOnce sync.Once
}

func (c *conn) dispatch() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.inbox:
			select {
			case <-c.done:
				return
			default:
			}
			c.handler(msg)
		}
	}
}

func (c *conn) Send(msg *protocol.Message) error {
	c.bus.mu.Lock()
	if _, ok := c.bus.channels[c.channel][c]; !ok {
		c.bus.mu.Unlock()
		return transport.ErrClosed
	}
	targets := make([]*conn, 0, len(c.bus.channels[c.channel]))
	for peer := range c.bus.channels[c.channel] {
		if peer != c {
			targets = append(targets, peer)
		}
	}
	c.bus.mu.Unlock()

	for _, peer := range targets {
		select {
		case peer.inbox <- msg:
		default:
			// best-effort: a peer that stopped draining loses messages
		}
	}
	return nil
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.bus.mu.Lock()
		if peers, ok := c.bus.channels[c.channel]; ok {
			delete(peers, c)
			if len(peers) == 0 {
				delete(c.bus.channels, c.channel)
			}
		}
		c.bus.mu.Unlock()
		close(c.done)
	})
	return nil
}
