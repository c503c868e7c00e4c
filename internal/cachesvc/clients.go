package cachesvc

import (
	"sync"

	"github.com/google/uuid"

	applog "budget/internal/log"
)

const (
	inboxSize      = 16
	controllerSize = 4
)

// Client is one open application instance controlled by the registration.
type Client struct {
	ID         string
	messages   chan Message
	controller chan string
}

// Messages delivers worker messages such as SYNC_REQUIRED.
func (c *Client) Messages() <-chan Message { return c.messages }

// ControllerChanges delivers the version of each newly activated worker.
func (c *Client) ControllerChanges() <-chan string { return c.controller }

// Clients is the set of connected application instances.
type Clients struct {
	mu      sync.Mutex
	clients map[string]*Client
	logger  *applog.Logger
}

func newClients(logger *applog.Logger) *Clients {
	return &Clients{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Connect registers a new client.
func (cs *Clients) Connect() *Client {
	c := &Client{
		ID:         uuid.NewString(),
		messages:   make(chan Message, inboxSize),
		controller: make(chan string, controllerSize),
	}
	cs.mu.Lock()
	cs.clients[c.ID] = c
	cs.mu.Unlock()
	return c
}

// Disconnect removes the client. Its channels are left open so readers
// never observe a spurious zero value.
func (cs *Clients) Disconnect(c *Client) {
	cs.mu.Lock()
	delete(cs.clients, c.ID)
	cs.mu.Unlock()
}

// Len returns the number of connected clients.
func (cs *Clients) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.clients)
}

// Broadcast posts msg to every client and returns how many received it.
// A full inbox drops the message for that client.
func (cs *Clients) Broadcast(msg Message) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delivered := 0
	for _, c := range cs.clients {
		select {
		case c.messages <- msg:
			delivered++
		default:
			cs.logger.Warn("Client inbox full, message dropped",
				"client_id", c.ID, applog.FieldMessageType, msg.Type)
		}
	}
	return delivered
}

func (cs *Clients) claim(version string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, c := range cs.clients {
		select {
		case c.controller <- version:
		default:
			cs.logger.Warn("Controller change dropped", "client_id", c.ID, applog.FieldWorkerVersion, version)
		}
	}
}
