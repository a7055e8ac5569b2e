package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// 客户端SSE连接管理
type SSEClient struct {
	EventID string
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan bool
}

var (
	// sseClients存储所有SSE连接，按选举ID分组
	sseClients      = make(map[string][]*SSEClient)
	sseClientsMutex = make(chan bool, 1) // 简单的互斥锁实现
)

// HandleSSE 处理SSE连接请求，推送选举的实时统计
func HandleSSE(c *gin.Context) {
	eventID := c.Param("id")

	// 校验选举存在，顺便拿到初始统计
	stats, err := controller.LiveStatistics(c.Request.Context(), eventID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	// 设置SSE所需的HTTP头
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	c.Writer.Header().Set("X-Accel-Buffering", "no") // 禁用Nginx缓冲

	// 获取Flusher接口
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "不支持流式响应"})
		return
	}

	client := &SSEClient{
		EventID: eventID,
		Writer:  c.Writer,
		Flusher: flusher,
		Done:    make(chan bool),
	}

	// 注册客户端
	sseClientsMutex <- true // 获取锁
	sseClients[eventID] = append(sseClients[eventID], client)
	<-sseClientsMutex // 释放锁

	log.Printf("已注册SSE客户端，选举: %s，客户端IP: %s", eventID, c.ClientIP())

	// 发送初始统计与连接确认
	sendSSEEvent(client, stats)
	sendSSEEvent(client, map[string]string{"status": "connected", "message": "SSE连接已建立"})

	// 设置定时发送心跳的goroutine
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	// 设置关闭通知
	notify := c.Request.Context().Done()

	// 保持连接直到客户端断开
	go func() {
		for {
			select {
			case <-notify:
				// 客户端断开连接
				log.Printf("SSE客户端已断开连接, 选举: %s", eventID)
				client.Done <- true
				return
			case <-client.Done:
				// 服务端关闭连接
				return
			case <-heartbeat.C:
				err := sendSSEEvent(client, map[string]string{"type": "heartbeat", "time": time.Now().Format(time.RFC3339)})
				if err != nil {
					log.Printf("发送心跳失败，关闭连接: %v", err)
					client.Done <- true
					return
				}
			}
		}
	}()

	// 等待连接关闭
	<-client.Done

	// 注销客户端
	unregisterSSEClient(client)
}

// 从列表中删除客户端
func unregisterSSEClient(client *SSEClient) {
	sseClientsMutex <- true              // 获取锁
	defer func() { <-sseClientsMutex }() // 释放锁

	clients := sseClients[client.EventID]
	for i, c := range clients {
		if c == client {
			sseClients[client.EventID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}

	// 如果该选举没有更多客户端，清理映射
	if len(sseClients[client.EventID]) == 0 {
		delete(sseClients, client.EventID)
	}
}

// 向单个SSE客户端发送事件
func sendSSEEvent(client *SSEClient, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("序列化数据失败，选举 %s: %v", client.EventID, err)
		return err
	}

	event := fmt.Sprintf("data: %s\n\n", jsonData)

	_, err = fmt.Fprint(client.Writer, event)
	if err != nil {
		log.Printf("写入SSE数据失败，选举 %s: %v", client.EventID, err)
		return err
	}

	client.Flusher.Flush()
	return nil
}

// BroadcastSSEUpdate 向所有监听特定选举的SSE客户端广播更新
func BroadcastSSEUpdate(eventID string, data interface{}) {
	sseClientsMutex <- true // 获取锁
	clients := sseClients[eventID]
	<-sseClientsMutex // 释放锁

	if len(clients) == 0 {
		return // 没有客户端监听
	}

	log.Printf("通过SSE广播更新给%d个客户端, 选举: %s", len(clients), eventID)

	for _, client := range clients {
		sendSSEEvent(client, data)
	}
}

// 定期发送心跳以保持连接
func init() {
	go func() {
		for {
			time.Sleep(30 * time.Second)

			sseClientsMutex <- true // 获取锁
			for eventID, clients := range sseClients {
				for _, client := range clients {
					// 发送注释作为心跳
					_, err := fmt.Fprint(client.Writer, ": ping\n\n")
					if err != nil {
						log.Printf("心跳发送失败，选举 %s: %v", eventID, err)
						client.Done <- true
						continue
					}
					client.Flusher.Flush()
				}
			}
			<-sseClientsMutex // 释放锁
		}
	}()
}
