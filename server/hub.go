package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"VoiceFM/logger"
	"VoiceFM/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 64
)

// MessageType 消息类型
type MessageType string

const (
	MsgTypeEvent MessageType = "event" // 会话事件
	MsgTypePing  MessageType = "ping"  // 心跳
	MsgTypePong  MessageType = "pong"  // 心跳响应
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType  `json:"type"`
	Event     *model.Event `json:"event,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

var errHubFull = errors.New("hub: broadcast buffer full")

// Client WebSocket 客户端，channel 为空时接收所有频道的事件
type Client struct {
	ID      string
	Channel string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
}

type broadcastMessage struct {
	channel string
	data    []byte
}

// Hub 事件推送中心，同时实现 stream.Notifier
type Hub struct {
	// 频道 -> 客户端集合
	channels map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMessage

	mu       sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once

	upgrader websocket.Upgrader
}

// NewHub 创建事件 Hub，Run 启动分发
func NewHub() *Hub {
	return &Hub{
		channels:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMessage, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run 启动 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client)
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.deliver(msg)
		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub 并关闭所有连接
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Notify implements stream.Notifier. Events are dropped when the hub is saturated.
func (h *Hub) Notify(_ context.Context, ev model.Event) error {
	data, err := json.Marshal(WSMessage{Type: MsgTypeEvent, Event: &ev, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- broadcastMessage{channel: ev.ChannelID, data: data}:
		return nil
	case <-h.done:
		return nil
	default:
		return errHubFull
	}
}

// ClientCount 当前订阅 channel 的客户端数量
func (h *Hub) ClientCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// ServeWS 升级连接并订阅 ?channel= 指定的频道
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[Hub] WebSocket 升级失败", logger.ErrorField(err))
		return
	}
	client := &Client{
		ID:      uuid.NewString(),
		Channel: r.URL.Query().Get("channel"),
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[c.Channel] == nil {
		h.channels[c.Channel] = make(map[*Client]bool)
	}
	h.channels[c.Channel][c] = true
	logger.Info("[Hub] 客户端已连接", logger.String("client", c.ID), logger.String("channel", c.Channel))
}

// removeClient 移除客户端，调用方持有锁
func (h *Hub) removeClient(c *Client) {
	clients, ok := h.channels[c.Channel]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.channels, c.Channel)
	}
	logger.Info("[Hub] 客户端已断开", logger.String("client", c.ID), logger.String("channel", c.Channel))
}

func (h *Hub) deliver(msg broadcastMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	targets := []map[*Client]bool{h.channels[msg.channel]}
	if msg.channel != "" {
		targets = append(targets, h.channels[""])
	}
	for _, clients := range targets {
		for c := range clients {
			select {
			case c.send <- msg.data:
			default:
				// 发送缓冲区满，移除客户端
				h.removeClient(c)
			}
		}
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.channels {
		for c := range clients {
			close(c.send)
		}
	}
	h.channels = make(map[string]map[*Client]bool)
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("[Hub] websocket read error", logger.ErrorField(err), logger.String("client", c.ID))
			}
			return
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != MsgTypePing {
			continue
		}
		pong, _ := json.Marshal(WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
		c.hub.mu.RLock()
		if c.hub.channels[c.Channel][c] {
			select {
			case c.send <- pong:
			default:
			}
		}
		c.hub.mu.RUnlock()
	}
}

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
				// Hub 关闭了通道
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
