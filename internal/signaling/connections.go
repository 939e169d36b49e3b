package signaling

import (
	"sync"

	"github.com/mossy-p/meeting-signaling/internal/models"
)

// Deliverer pushes an event to a connection. Delivery is best effort and
// must not block.
type Deliverer interface {
	Deliver(connectionID string, env models.Envelope) bool
}

// Connections is the table of live websocket clients by connection id
type Connections struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewConnections() *Connections {
	return &Connections{clients: make(map[string]*Client)}
}

func (cs *Connections) add(c *Client) {
	cs.mu.Lock()
	cs.clients[c.ID] = c
	cs.mu.Unlock()
}

func (cs *Connections) remove(id string) {
	cs.mu.Lock()
	delete(cs.clients, id)
	cs.mu.Unlock()
}

func (cs *Connections) Len() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.clients)
}

func (cs *Connections) Deliver(connectionID string, env models.Envelope) bool {
	cs.mu.RLock()
	c, ok := cs.clients[connectionID]
	cs.mu.RUnlock()
	if !ok {
		return false
	}
	return c.enqueue(env)
}
