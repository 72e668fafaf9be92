package ws

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordConn is a Conn that remembers every message it was sent.
type recordConn struct {
	id string

	mu   sync.Mutex
	msgs []Message
}

func (c *recordConn) ID() string { return c.id }

func (c *recordConn) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recordConn) received() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func TestHubBroadcastExcludesSender(t *testing.T) {
	h := NewHub()
	a := &recordConn{id: "conn-a"}
	b := &recordConn{id: "conn-b"}
	c := &recordConn{id: "conn-c"}
	h.Add("C1", a)
	h.Add("C1", b)
	h.Add("C1", c)

	h.Broadcast("C1", Message{Type: "newProducer"}, "conn-a")

	require.Empty(t, a.received())
	require.Len(t, b.received(), 1)
	require.Len(t, c.received(), 1)
}

func TestHubBroadcastScopedToClass(t *testing.T) {
	h := NewHub()
	a := &recordConn{id: "conn-a"}
	b := &recordConn{id: "conn-b"}
	h.Add("C1", a)
	h.Add("C2", b)

	h.Broadcast("C1", Message{Type: "userJoined"}, "")

	require.Len(t, a.received(), 1)
	require.Empty(t, b.received())
}

func TestHubRemoveStopsDelivery(t *testing.T) {
	h := NewHub()
	a := &recordConn{id: "conn-a"}
	b := &recordConn{id: "conn-b"}
	h.Add("C1", a)
	h.Add("C1", b)

	h.Remove("C1", "conn-b")
	h.Broadcast("C1", Message{Type: "userLeft"}, "")

	require.Len(t, a.received(), 1)
	require.Empty(t, b.received())
}
