package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"votesecure-backend/cache"
)

// RedisMQ 基于Redis List实现的账本事件队列
// RocketMQ不可用时的退路，LPUSH/BRPOPLPUSH天然保证入队顺序
type RedisMQ struct {
	client            *redis.Client
	ctx               context.Context
	processHandler    EventHandler
	isRunning         bool
	stopChan          chan struct{}
	wg                sync.WaitGroup
	processingTimeout time.Duration // 消息处理超时时间
	retryDelay        time.Duration // 重试延迟
	maxRetries        int           // 最大重试次数
}

// 队列名称常量
const (
	MainQueueName       = "ledger_events_queue"       // 主队列
	ProcessingQueueName = "ledger_events_processing"  // 处理中队列
	DeadLetterQueueName = "ledger_events_dead_letter" // 死信队列
	RetriesHashName     = "ledger_events_retries"     // 重试次数记录
	ProcessedSetName    = "ledger_event_ids"          // 幂等性集合
	timeoutScanLock     = "mq:timeout_scan"           // 超时扫描互斥锁
)

// NewRedisMQ 创建基于Redis的账本事件队列
func NewRedisMQ(redisClient *redis.Client) *RedisMQ {
	return &RedisMQ{
		client:            redisClient,
		ctx:               context.Background(),
		stopChan:          make(chan struct{}),
		processingTimeout: 5 * time.Minute,
		retryDelay:        30 * time.Second,
		maxRetries:        3,
	}
}

// RegisterHandler 注册消息处理函数
func (r *RedisMQ) RegisterHandler(handler EventHandler) {
	r.processHandler = handler
}

// SendLedgerEvent 发送账本事件
func (r *RedisMQ) SendLedgerEvent(eventID string, eventType string) error {
	messageID := generateMessageID()
	msg := LedgerEvent{
		EventID:   eventID,
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		MessageID: messageID,
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %v", err)
	}

	// 幂等性检查
	exists, err := r.client.SIsMember(r.ctx, ProcessedSetName, messageID).Result()
	if err != nil {
		log.Printf("检查消息幂等性出错: %v", err)
	} else if exists {
		log.Printf("消息已处理过，跳过: %s", messageID)
		return nil
	}

	if err := r.client.SAdd(r.ctx, ProcessedSetName, messageID).Err(); err != nil {
		log.Printf("添加消息ID到幂等性集合出错: %v", err)
	}
	// 设置过期时间，避免集合无限增长
	r.client.Expire(r.ctx, ProcessedSetName, 48*time.Hour)

	if err := r.client.LPush(r.ctx, MainQueueName, jsonData).Err(); err != nil {
		return fmt.Errorf("发送消息到队列失败: %v", err)
	}

	log.Printf("账本事件已入队: %s, 消息ID: %s", eventType, messageID)
	return nil
}

// Start 启动消费者
func (r *RedisMQ) Start() error {
	if r.processHandler == nil {
		return fmt.Errorf("处理函数未注册")
	}
	if r.isRunning {
		return nil
	}

	r.isRunning = true

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.timeoutCheckLoop()

	log.Println("Redis账本事件消费者已启动")
	return nil
}

// Stop 关闭消费者
func (r *RedisMQ) Stop() {
	if !r.isRunning {
		return
	}

	close(r.stopChan)
	r.wg.Wait()
	r.isRunning = false
	log.Println("Redis账本事件消费者已关闭")
}

// consumeLoop 主消费循环
func (r *RedisMQ) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopChan:
			return
		default:
			// BRPOPLPUSH原子地从主队列取出并放入处理中队列
			result, err := r.client.BRPopLPush(r.ctx, MainQueueName, ProcessingQueueName, 1*time.Second).Result()
			if err != nil {
				if err != redis.Nil {
					log.Printf("从队列获取消息失败: %v", err)
				}
				continue
			}

			go r.processMessage(result)
		}
	}
}

// timeoutCheckLoop 超时检查循环
func (r *RedisMQ) timeoutCheckLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.checkTimeouts()
		}
	}
}

// checkTimeouts 处理中队列的消息超时后重新入队或进死信
// 多实例部署时同一轮扫描只允许一个实例执行，锁不可用时退化为各自扫描
func (r *RedisMQ) checkTimeouts() {
	if locked, err := cache.AcquireLock(timeoutScanLock, time.Minute); err == nil {
		if !locked {
			return
		}
		defer cache.ReleaseLock(timeoutScanLock)
	}

	messages, err := r.client.LRange(r.ctx, ProcessingQueueName, 0, -1).Result()
	if err != nil {
		log.Printf("获取处理中队列消息失败: %v", err)
		return
	}

	now := time.Now().Unix()

	for _, msgData := range messages {
		var msg LedgerEvent
		if err := json.Unmarshal([]byte(msgData), &msg); err != nil {
			log.Printf("解析消息数据失败: %v", err)
			continue
		}

		if now-msg.Timestamp <= int64(r.processingTimeout.Seconds()) {
			continue
		}

		retries, _ := r.client.HGet(r.ctx, RetriesHashName, msg.MessageID).Int()
		if retries >= r.maxRetries {
			log.Printf("消息 %s 超过最大重试次数，移至死信队列", msg.MessageID)
			r.moveToDeadLetter(msgData)
			continue
		}

		r.client.HIncrBy(r.ctx, RetriesHashName, msg.MessageID, 1)

		msg.Timestamp = now
		updatedData, _ := json.Marshal(msg)
		r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)

		time.AfterFunc(r.retryDelay, func() {
			r.client.LPush(r.ctx, MainQueueName, updatedData)
			log.Printf("消息 %s 重新入队，重试次数: %d", msg.MessageID, retries+1)
		})
	}
}

// processMessage 处理单个消息
func (r *RedisMQ) processMessage(msgData string) {
	var msg LedgerEvent
	if err := json.Unmarshal([]byte(msgData), &msg); err != nil {
		log.Printf("解析消息失败: %v", err)
		r.moveToDeadLetter(msgData)
		return
	}

	if err := r.processHandler(msg.EventID, msg.Type); err != nil {
		log.Printf("处理账本事件失败: %v", err)

		retries, _ := r.client.HGet(r.ctx, RetriesHashName, msg.MessageID).Int()
		if retries >= r.maxRetries {
			log.Printf("消息 %s 超过最大重试次数，移至死信队列", msg.MessageID)
			r.moveToDeadLetter(msgData)
			return
		}

		r.client.HIncrBy(r.ctx, RetriesHashName, msg.MessageID, 1)

		msg.Timestamp = time.Now().Unix()
		updatedData, _ := json.Marshal(msg)
		time.AfterFunc(r.retryDelay, func() {
			r.client.LPush(r.ctx, MainQueueName, updatedData)
		})
	}

	// 无论成功失败，都从处理中队列移除
	r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)
}

// moveToDeadLetter 移动消息到死信队列
func (r *RedisMQ) moveToDeadLetter(msgData string) {
	r.client.LPush(r.ctx, DeadLetterQueueName, msgData)
	r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)
}

// RetryDeadLetters 重新处理死信队列中的消息
func (r *RedisMQ) RetryDeadLetters() error {
	messages, err := r.client.LRange(r.ctx, DeadLetterQueueName, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("获取死信队列消息失败: %v", err)
	}

	count := 0
	for _, msgData := range messages {
		if err := r.client.LPush(r.ctx, MainQueueName, msgData).Err(); err != nil {
			log.Printf("重新入队消息失败: %v", err)
			continue
		}

		r.client.LRem(r.ctx, DeadLetterQueueName, 1, msgData)

		// 重置重试计数
		var msg LedgerEvent
		if json.Unmarshal([]byte(msgData), &msg) == nil {
			r.client.HDel(r.ctx, RetriesHashName, msg.MessageID)
		}
		count++
	}

	log.Printf("成功将 %d 条消息从死信队列移回主队列", count)
	return nil
}

// GetQueueStats 获取各队列的消息数量统计
func (r *RedisMQ) GetQueueStats() map[string]int64 {
	stats := make(map[string]int64)

	mainLen, _ := r.client.LLen(r.ctx, MainQueueName).Result()
	procLen, _ := r.client.LLen(r.ctx, ProcessingQueueName).Result()
	deadLen, _ := r.client.LLen(r.ctx, DeadLetterQueueName).Result()

	stats["main_queue"] = mainLen
	stats["processing_queue"] = procLen
	stats["dead_letter_queue"] = deadLen

	return stats
}

// ClearAllQueues 清空所有队列（仅用于测试）
func (r *RedisMQ) ClearAllQueues() error {
	err := r.client.Del(r.ctx, MainQueueName, ProcessingQueueName, DeadLetterQueueName, RetriesHashName, ProcessedSetName).Err()
	if err != nil {
		return fmt.Errorf("清空队列失败: %v", err)
	}
	return nil
}
