package notify

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Subscribers only send small control messages
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Scanner apps and dashboards connect from anywhere; the route is
	// behind bearer auth
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one websocket subscriber
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	ID string

	mu       sync.RWMutex
	packages map[string]bool // Empty means every package
}

// controlMessage is what a subscriber may send
type controlMessage struct {
	Type       string   `json:"type"`
	MsgID      string   `json:"msgId,omitempty"`
	PackageIDs []string `json:"packageIds,omitempty"`
}

func (c *Client) wants(packageID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.packages) == 0 || c.packages[packageID]
}

func (c *Client) subscribe(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packages = make(map[string]bool, len(ids))
	for _, id := range ids {
		c.packages[id] = true
	}
}

// readPump handles SUBSCRIBE messages until the connection drops
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS error: %v", err)
			}
			break
		}

		var msg controlMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "SUBSCRIBE" {
			c.subscribe(msg.PackageIDs)
			c.sendJSON(map[string]interface{}{
				"type":     "ACK",
				"msgId":    msg.MsgID,
				"packages": len(msg.PackageIDs),
			})
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendJSON queues a reply. It goes through the hub lock so it never races
// the hub closing send.
func (c *Client) sendJSON(v interface{}) {
	msg, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if current, ok := c.hub.clients[c.ID]; !ok || current != c {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// ServeWs upgrades the request and registers the connection as a subscriber
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
		ID:   "sub_" + uuid.New().String(),
	}
	if !hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
