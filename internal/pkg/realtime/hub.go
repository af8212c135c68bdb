package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/andersonlima/PedeAi/app/models"
	"github.com/gofiber/contrib/websocket"
)

// Client is one websocket connection belonging to a user. A user may
// hold several connections (phone plus laptop).
type Client struct {
	UserID uint
	Conn   *websocket.Conn
	Send   chan []byte
}

// Hub tracks connected clients and pushes per-user events to them.
type Hub struct {
	clients    map[*Client]bool
	users      map[uint]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		users:      make(map[uint]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Start runs the registration loop. Call it in its own goroutine.
func (h *Hub) Start() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			if _, ok := h.users[client.UserID]; !ok {
				h.users[client.UserID] = make(map[*Client]bool)
			}
			h.users[client.UserID][client] = true
			h.mutex.Unlock()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				if conns, ok := h.users[client.UserID]; ok {
					delete(conns, client)
					if len(conns) == 0 {
						delete(h.users, client.UserID)
					}
				}
			}
			h.mutex.Unlock()
		}
	}
}

// SendToUser delivers message to every open connection of userID.
// Connections with a full send buffer are dropped.
func (h *Hub) SendToUser(userID uint, message []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.users[userID] {
		select {
		case client.Send <- message:
		default:
			log.Printf("[WS] dropping slow client for user %d", userID)
			close(client.Send)
			delete(h.clients, client)
			delete(h.users[userID], client)
		}
	}
}

type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type subscriptionPayload struct {
	IsActive  bool       `json:"is_active"`
	Status    string     `json:"status"`
	PlanName  string     `json:"plan_name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type orderPayload struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}

// NotifySubscriptionChanged pushes a subscription_updated event to the
// user. It satisfies the billing notifier contract.
func (h *Hub) NotifySubscriptionChanged(userID uint, sub *models.Subscription) error {
	msg, err := json.Marshal(envelope{
		Type: "subscription_updated",
		Data: subscriptionPayload{
			IsActive:  sub.Status == models.SubscriptionStatusActive,
			Status:    sub.Status,
			PlanName:  sub.PlanName,
			ExpiresAt: sub.ExpiresAt,
		},
	})
	if err != nil {
		return err
	}
	h.SendToUser(userID, msg)
	return nil
}

// NotifyOrderUpdated pushes an order_updated event to the user.
func (h *Hub) NotifyOrderUpdated(userID uint, order *models.Order) error {
	msg, err := json.Marshal(envelope{
		Type: "order_updated",
		Data: orderPayload{
			OrderID:       order.ID,
			Status:        order.Status,
			PaymentStatus: order.PaymentStatus,
		},
	})
	if err != nil {
		return err
	}
	h.SendToUser(userID, msg)
	return nil
}

const (
	writeWait = 30 * time.Second
	pongWait  = 120 * time.Second
	pingEvery = 15 * time.Second
)

// Serve handles an upgraded connection for the given user. It blocks
// until the connection closes, which matches how the fiber websocket
// handler expects to be used.
func (h *Hub) Serve(userID uint, conn *websocket.Conn) {
	client := &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 64),
	}
	h.register <- client

	go client.writePump()
	client.readPump(h)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection. Clients only receive on this socket;
// inbound frames are ignored but reading is what surfaces close and
// pong frames.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(1024)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] read error for user %d: %v", c.UserID, err)
			}
			return
		}
	}
}
