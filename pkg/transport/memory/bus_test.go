package memory_test

import (
	"sync"
	"testing"
	"time"

	"chieftain/pkg/protocol"
	"chieftain/pkg/transport/memory"
)

type collector struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (c *collector) handle(msg *protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestBus_NoLoopback(t *testing.T) {
	bus := memory.NewBus()

	var a, b collector
	ta, _ := bus.Connect("room", "a", a.handle)
	_, _ = bus.Connect("room", "b", b.handle)

	err := ta.Send(&protocol.Message{Type: protocol.TypeHeartbeat, SenderID: "a", Timestamp: 1})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if a.count() != 0 {
		t.Errorf("sender received its own message")
	}
	if b.count() != 1 {
		t.Errorf("expected 1 message at peer b, got %d", b.count())
	}
}

func TestBus_ChannelIsolation(t *testing.T) {
	bus := memory.NewBus()

	var other collector
	ta, _ := bus.Connect("room-1", "a", func(*protocol.Message) {})
	_, _ = bus.Connect("room-2", "b", other.handle)

	_ = ta.Send(&protocol.Message{Type: protocol.TypeElection, SenderID: "a", Timestamp: 1})
	time.Sleep(50 * time.Millisecond)

	if other.count() != 0 {
		t.Errorf("message leaked across channels")
	}
}

func TestBus_SendAfterClose(t *testing.T) {
	bus := memory.NewBus()

	ta, _ := bus.Connect("room", "a", func(*protocol.Message) {})
	if err := ta.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := ta.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if err := ta.Send(&protocol.Message{Type: protocol.TypeData, SenderID: "a"}); err == nil {
		t.Error("expected error sending on closed transport")
	}
}

func TestBus_ClosedPeerStopsReceiving(t *testing.T) {
	bus := memory.NewBus()

	var b collector
	ta, _ := bus.Connect("room", "a", func(*protocol.Message) {})
	tb, _ := bus.Connect("room", "b", b.handle)

	_ = tb.Close()
	_ = ta.Send(&protocol.Message{Type: protocol.TypeData, SenderID: "a"})
	time.Sleep(50 * time.Millisecond)

	if b.count() != 0 {
		t.Errorf("closed peer still received %d messages", b.count())
	}
}

func TestBus_FanOut(t *testing.T) {
	bus := memory.NewBus()

	var b, c collector
	ta, _ := bus.Connect("room", "a", func(*protocol.Message) {})
	_, _ = bus.Connect("room", "b", b.handle)
	_, _ = bus.Connect("room", "c", c.handle)

	for i := 0; i < 5; i++ {
		_ = ta.Send(&protocol.Message{Type: protocol.TypeHeartbeat, SenderID: "a", Timestamp: int64(i)})
	}
	time.Sleep(50 * time.Millisecond)

	if b.count() != 5 || c.count() != 5 {
		t.Errorf("expected 5 messages each, got b=%d c=%d", b.count(), c.count())
	}
}
