package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Hub 管理WebSocket连接的中心
type Hub struct {
	// 分组存储的客户端连接，按选举ID组织
	clients map[string]map[*Client]bool

	// 添加新客户端的注册通道
	register chan *Client

	// 删除客户端的注销通道
	unregister chan *Client

	// 广播特定选举的统计快照
	broadcast chan *BroadcastMessage

	// 锁，用于保护clients字典
	mu sync.RWMutex

	// 用于跟踪每个选举的连接数
	eventConnections map[string]int

	// 定期清理过期连接
	expireTicker *time.Ticker

	// 最大连接数限制
	maxConnections int

	// 当前连接总数
	totalConnections int

	// 每个选举的最新统计快照，新连接时先同步一次
	// 统计是全量快照，只保留最新一份即可
	latestSnapshot map[string][]byte

	// 快照锁
	snapshotMu sync.RWMutex
}

// Client 表示一个WebSocket客户端连接
type Client struct {
	// 所属Hub
	hub *Hub

	// WebSocket连接
	conn *websocket.Conn

	// 发送消息的通道
	send chan []byte

	// 客户端关注的选举ID
	eventID string

	// 客户端上次活动时间
	lastActivity time.Time

	// 是否为keepalive连接
	isKeepalive bool
}

// BroadcastMessage 定义广播消息的结构
type BroadcastMessage struct {
	EventID string      `json:"event_id"`
	Stats   interface{} `json:"stats"`
}

// 定义WebSocket升级器
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 允许所有CORS请求，生产环境应限制
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 全局Hub实例
var (
	GlobalHub *Hub
	hubOnce   sync.Once
)

// 初始化函数，创建并启动Hub
func init() {
	// 确保Hub只被初始化一次
	hubOnce.Do(func() {
		GlobalHub = &Hub{
			clients:          make(map[string]map[*Client]bool),
			register:         make(chan *Client),
			unregister:       make(chan *Client),
			broadcast:        make(chan *BroadcastMessage),
			eventConnections: make(map[string]int),
			expireTicker:     time.NewTicker(5 * time.Minute),
			maxConnections:   10000,
			latestSnapshot:   make(map[string][]byte),
		}
		go GlobalHub.run()
	})
}

// run 运行Hub处理循环
func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.eventID]; !ok {
				h.clients[client.eventID] = make(map[*Client]bool)
				h.eventConnections[client.eventID] = 0
			}
			h.clients[client.eventID][client] = true
			h.eventConnections[client.eventID]++
			h.totalConnections++
			connCount := h.eventConnections[client.eventID]
			totalCount := h.totalConnections
			h.mu.Unlock()

			log.Printf("新WebSocket客户端已连接 [选举: %s, 连接数: %d, 总连接: %d]",
				client.eventID, connCount, totalCount)

			// 把最新快照同步给新客户端
			h.sendSnapshotToClient(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.eventID]; ok {
				if _, ok := h.clients[client.eventID][client]; ok {
					delete(h.clients[client.eventID], client)
					h.eventConnections[client.eventID]--
					h.totalConnections--
					close(client.send)

					log.Printf("WebSocket客户端已断开 [选举: %s, 连接数: %d]",
						client.eventID, h.eventConnections[client.eventID])

					if len(h.clients[client.eventID]) == 0 {
						delete(h.clients, client.eventID)
						delete(h.eventConnections, client.eventID)
					}
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := h.clients[message.EventID]
			clientCount := len(clients)
			h.mu.RUnlock()

			data, err := json.Marshal(message.Stats)
			if err != nil {
				log.Printf("序列化广播消息失败: %v", err)
				continue
			}

			h.storeSnapshot(message.EventID, data)

			// 没有客户端时跳过广播，快照已保留
			if clientCount == 0 {
				continue
			}

			successCount := 0
			failureCount := 0

			h.mu.Lock()
			for client := range clients {
				select {
				case client.send <- data:
					successCount++
				default:
					// 客户端缓冲区已满，关闭连接
					failureCount++
					close(client.send)
					delete(h.clients[message.EventID], client)
					h.eventConnections[message.EventID]--
					h.totalConnections--
				}
			}
			h.mu.Unlock()

			log.Printf("广播统计到 %d 个WebSocket客户端 [选举: %s], 成功: %d, 失败: %d",
				clientCount, message.EventID, successCount, failureCount)

		case <-h.expireTicker.C:
			// 清理长时间不活跃的连接
			now := time.Now()
			timeout := 30 * time.Minute

			h.mu.Lock()
			for eventID, clients := range h.clients {
				for client := range clients {
					if client.lastActivity.Add(timeout).Before(now) {
						log.Printf("关闭不活跃的WebSocket连接 [选举: %s, 不活跃时间: %v]",
							eventID, now.Sub(client.lastActivity))
						delete(clients, client)
						h.eventConnections[eventID]--
						h.totalConnections--
						close(client.send)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, eventID)
					delete(h.eventConnections, eventID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// storeSnapshot 保留选举的最新统计快照
func (h *Hub) storeSnapshot(eventID string, data []byte) {
	h.snapshotMu.Lock()
	h.latestSnapshot[eventID] = data
	h.snapshotMu.Unlock()
}

// sendSnapshotToClient 向新客户端同步最新快照
func (h *Hub) sendSnapshotToClient(client *Client) {
	h.snapshotMu.RLock()
	snapshot, exists := h.latestSnapshot[client.eventID]
	h.snapshotMu.RUnlock()

	if !exists {
		return
	}

	select {
	case client.send <- snapshot:
	default:
		log.Printf("无法向新客户端发送快照 [选举: %s]", client.eventID)
	}
}

// HandleWebSocket 处理WebSocket连接
// 客户端订阅单个选举的实时统计推送
func HandleWebSocket(c *gin.Context) {
	eventID := c.Param("id")
	if eventID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的选举ID"})
		return
	}

	// 检查是否有keepalive参数
	keepalive := c.Query("keepalive") == "true"

	// 检查连接数量是否达到上限
	GlobalHub.mu.RLock()
	if GlobalHub.totalConnections >= GlobalHub.maxConnections {
		GlobalHub.mu.RUnlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "服务器连接已达上限，请稍后重试"})
		return
	}
	GlobalHub.mu.RUnlock()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("升级WebSocket连接失败: %v", err)
		return
	}

	client := &Client{
		hub:          GlobalHub,
		conn:         conn,
		send:         make(chan []byte, 256),
		eventID:      eventID,
		lastActivity: time.Now(),
		isKeepalive:  keepalive,
	}

	if keepalive {
		// 投票后保持活跃的连接允许3小时
		client.conn.SetReadDeadline(time.Now().Add(3 * time.Hour))

		welcomeMsg := map[string]interface{}{
			"type":    "CONNECT_SUCCESS",
			"message": "连接已建立，将接收实时更新",
		}
		if msgData, err := json.Marshal(welcomeMsg); err == nil {
			client.conn.WriteMessage(websocket.TextMessage, msgData)
		}
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// BroadcastLiveStats 广播选举的统计快照给所有订阅客户端
func BroadcastLiveStats(eventID string, stats interface{}) {
	formattedMessage := map[string]interface{}{
		"type": "STATS_UPDATE",
		"data": map[string]interface{}{
			"event_id":  eventID,
			"stats":     stats,
			"timestamp": time.Now().UnixNano(), // 客户端按时间戳判断消息顺序
		},
	}

	message := &BroadcastMessage{
		EventID: eventID,
		Stats:   formattedMessage,
	}

	// 异步发送广播，避免阻塞准入路径
	go func() {
		maxRetries := 2
		for retry := 0; retry <= maxRetries; retry++ {
			select {
			case GlobalHub.broadcast <- message:
				return
			default:
				if retry < maxRetries {
					time.Sleep(time.Duration(20*(retry+1)) * time.Millisecond)
				} else {
					log.Printf("WebSocket广播失败，达到最大重试次数: 选举=%s", eventID)
				}
			}
		}
	}()
}

// 客户端读取循环
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)

	if c.isKeepalive {
		c.conn.SetReadDeadline(time.Now().Add(3 * time.Hour))
	} else {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	}

	c.conn.SetPongHandler(func(string) error {
		c.lastActivity = time.Now()
		if c.isKeepalive {
			c.conn.SetReadDeadline(time.Now().Add(3 * time.Hour))
		} else {
			c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		}
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket读取错误: %v", err)
			}
			break
		}

		c.lastActivity = time.Now()

		// 处理客户端的应用层PING
		if messageType == websocket.TextMessage {
			var msg map[string]interface{}
			if err := json.Unmarshal(message, &msg); err == nil {
				if msgType, ok := msg["type"].(string); ok && msgType == "PING" {
					pongMsg := map[string]string{
						"type": "PONG",
						"time": time.Now().Format(time.RFC3339),
					}
					if pongData, err := json.Marshal(pongMsg); err == nil {
						c.conn.WriteMessage(websocket.TextMessage, pongData)
					}
				}
			}
		}
	}
}

// 客户端写入循环
func (c *Client) writePump() {
	ticker := time.NewTicker(60 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	// keepalive连接使用更频繁的ping间隔
	if c.isKeepalive {
		ticker.Stop()
		ticker = time.NewTicker(30 * time.Second)
	}

	for {
		select {
		case message, ok := <-c.send:
			writeTimeout := 10 * time.Second
			if c.isKeepalive {
				writeTimeout = 30 * time.Second
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

			if !ok {
				// Hub关闭了channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.lastActivity = time.Now()

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 附带排队的消息
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			pingTimeout := 10 * time.Second
			if c.isKeepalive {
				pingTimeout = 30 * time.Second
			}
			c.conn.SetWriteDeadline(time.Now().Add(pingTimeout))

			// keepalive连接发送JSON ping而不是WebSocket ping
			if c.isKeepalive {
				pingMsg := map[string]string{
					"type": "PING",
					"time": time.Now().Format(time.RFC3339),
				}
				if pingData, err := json.Marshal(pingMsg); err == nil {
					if err := c.conn.WriteMessage(websocket.TextMessage, pingData); err != nil {
						return
					}
				}
			} else {
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
