// Package websocket fans launcher state out to connected local clients and
// carries their commands back to the daemon. One hub serves every
// connection the daemon accepts.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
)

const writeDeadline = 5 * time.Second
const pongWait = 60 * time.Second
const pingInterval = 30 * time.Second

// The daemon only listens on loopback, so anything that can reach this
// endpoint already runs as the local user. Origin checks add nothing here.
var upgrader = gws.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	id      string
	conn    *gws.Conn
	send    chan []byte
	hub     *Hub
	closed  chan struct{}
	closeMu sync.Mutex
}

type clientSend struct {
	clientID string
	payload  []byte
}

// ClientMessage represents an inbound message from a websocket client.
type ClientMessage struct {
	ClientID string
	Payload  []byte
}

// Hub manages websocket client connections and broadcasts.
type Hub struct {
	clients    map[string]*client
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	unicast    chan clientSend
	incoming   chan ClientMessage
	mutex      sync.RWMutex

	// latest is the most recent snapshot frame; new connections receive it
	// before anything else so they never render from a blank state.
	latestMu sync.RWMutex
	latest   []byte
}

// NewHub creates a hub. Run must be started for traffic to flow.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		unicast:    make(chan clientSend, 128),
		incoming:   make(chan ClientMessage, 256),
	}
}

// Run pumps hub traffic until ctx is canceled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mutex.Unlock()
			log.Printf("websocket client connected, total %d", total)

		case client := <-h.unregister:
			h.removeClient(client.id)

		case message := <-h.broadcast:
			for _, client := range h.snapshotClients() {
				h.enqueue(client, message)
			}

		case msg := <-h.unicast:
			if c := h.getClient(msg.clientID); c != nil {
				h.enqueue(c, msg.payload)
			}

		case <-ctx.Done():
			for _, client := range h.snapshotClients() {
				h.removeClient(client.id)
			}
			return
		}
	}
}

func (h *Hub) snapshotClients() []*client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	clients := make([]*client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *Hub) getClient(id string) *client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.clients[id]
}

// enqueue delivers payload to one client without ever blocking the hub.
// A full send buffer sheds its oldest frames; a client mid-teardown is
// skipped entirely so we never write to a closed channel.
func (h *Hub) enqueue(client *client, payload []byte) {
	client.closeMu.Lock()
	defer client.closeMu.Unlock()

	select {
	case <-client.closed:
		return
	default:
	}

	for {
		select {
		case client.send <- payload:
			return
		default:
			select {
			case <-client.send:
			default:
			}
		}
	}
}

func (h *Hub) removeClient(id string) {
	h.mutex.Lock()
	client, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	total := len(h.clients)
	h.mutex.Unlock()

	if ok && client != nil {
		client.close()
		log.Printf("websocket client disconnected, total %d", total)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// BroadcastSnapshot sends a full-state frame to every client and remembers
// it for clients that connect later.
func (h *Hub) BroadcastSnapshot(payload []byte) {
	h.latestMu.Lock()
	h.latest = payload
	h.latestMu.Unlock()
	h.Broadcast(payload)
}

// Broadcast queues a frame for every connected client. When the hub's
// broadcast channel is saturated the frame is dropped; a fresher one is
// always on the way.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
	}
}

// BroadcastJSON marshals v and broadcasts it.
func (h *Hub) BroadcastJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("marshal websocket broadcast: %v", err)
		return
	}
	h.Broadcast(data)
}

// Incoming returns a channel for consuming raw messages from clients.
func (h *Hub) Incoming() <-chan ClientMessage {
	return h.incoming
}

// SendToClient queues a payload to a specific client by ID.
func (h *Hub) SendToClient(clientID string, payload []byte) error {
	if clientID == "" {
		return fmt.Errorf("client id required")
	}
	if h.getClient(clientID) == nil {
		return fmt.Errorf("client %s not found", clientID)
	}
	h.unicast <- clientSend{
		clientID: clientID,
		payload:  payload,
	}
	return nil
}

// SendJSONToClient marshals the value and sends it to the client.
func (h *Hub) SendJSONToClient(clientID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToClient(clientID, data)
}

func (h *Hub) latestSnapshot() []byte {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	return h.latest
}

// HandleWebSocket upgrades the connection and attaches it to the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	// The state frame goes out before the client is registered so nothing
	// can be interleaved ahead of it.
	if snapshot := h.latestSnapshot(); snapshot != nil {
		if err := conn.WriteMessage(gws.TextMessage, snapshot); err != nil {
			log.Printf("failed to send snapshot to new client: %v", err)
			conn.Close()
			return
		}
	}

	c := newClient(h, conn)
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func newClient(h *Hub, conn *gws.Conn) *client {
	return &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h,
		closed: make(chan struct{}),
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()

	c.conn.SetReadLimit(1 << 20) // 1 MiB
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseGoingAway, gws.CloseAbnormalClosure) {
				log.Printf("websocket read error (client %s): %v", c.id, err)
			}
			break
		}

		if msgType != gws.TextMessage {
			continue
		}

		select {
		case c.hub.incoming <- ClientMessage{ClientID: c.id, Payload: payload}:
		default:
			log.Printf("websocket: dropping inbound message (client %s), channel full", c.id)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				_ = c.conn.WriteMessage(gws.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gws.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(gws.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}

func (c *client) close() {
	c.closeMu.Lock()
	select {
	case <-c.closed:
		// already closed
	default:
		close(c.closed)
		close(c.send)
		_ = c.conn.Close()
	}
	c.closeMu.Unlock()
}
