package mq

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"votesecure-backend/models"
)

// MQAdapter 消息队列适配器
// 优先RocketMQ，不可用时退到Redis List队列，两者都不可用时
// 进入RocketMQ的模拟模式（消息直接投递给进程内处理函数）
type MQAdapter struct {
	rocketEnabled bool
	redisEnabled  bool
	redisMQ       *RedisMQ
	redisClient   *redis.Client
	initOnce      sync.Once
	initialized   bool
}

// NewMQAdapter 创建消息队列适配器
func NewMQAdapter() *MQAdapter {
	return &MQAdapter{}
}

// Initialize 初始化消息队列
func (a *MQAdapter) Initialize() error {
	var err error
	a.initOnce.Do(func() {
		// 先尝试RocketMQ（含其内部的模拟模式降级）
		if rocketErr := InitRocketMQ(); rocketErr == nil && !IsMockMode() {
			a.rocketEnabled = true
			a.initialized = true
			log.Println("成功初始化RocketMQ")
			return
		}

		log.Println("RocketMQ不可用，尝试初始化Redis MQ...")

		redisAddr := os.Getenv("REDIS_ADDR")
		if redisAddr == "" {
			redisAddr = "localhost:6379"
		}
		redisPassword := os.Getenv("REDIS_PASSWORD")

		a.redisClient = redis.NewClient(&redis.Options{
			Addr:        redisAddr,
			Password:    redisPassword,
			DB:          0,
			DialTimeout: 5 * time.Second,
			ReadTimeout: 5 * time.Second,
			PoolSize:    20,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, redisErr := a.redisClient.Ping(ctx).Result(); redisErr != nil {
			log.Printf("Redis连接失败: %v，使用RocketMQ模拟模式", redisErr)
			// 两条真实队列都不可用，退到模拟模式保证本地可用
			a.rocketEnabled = true
			a.initialized = true
			return
		}

		a.redisMQ = NewRedisMQ(a.redisClient)
		a.redisEnabled = true
		a.initialized = true
		log.Println("成功初始化Redis MQ")
	})

	return err
}

// RegisterHandler 注册账本事件处理函数并启动消费者
func (a *MQAdapter) RegisterHandler(handler EventHandler) error {
	if !a.initialized {
		return fmt.Errorf("消息队列适配器未初始化")
	}

	if a.rocketEnabled {
		return StartLedgerConsumer(handler)
	}

	if a.redisEnabled {
		if a.redisMQ == nil {
			return fmt.Errorf("Redis MQ实例为空，无法注册处理函数")
		}
		a.redisMQ.RegisterHandler(handler)
		if err := a.redisMQ.Start(); err != nil {
			return fmt.Errorf("启动Redis MQ消费者失败: %v", err)
		}
		log.Println("已注册并启动Redis MQ消费者")
		return nil
	}

	return fmt.Errorf("适配器未初始化成功")
}

// SendLedgerEvent 发送账本事件
func (a *MQAdapter) SendLedgerEvent(eventID string, eventType string) error {
	if !a.IsInitialized() {
		return fmt.Errorf("消息队列适配器未初始化，无法发送消息")
	}

	if a.rocketEnabled {
		return SendLedgerEvent(eventID, eventType)
	}

	if a.redisMQ == nil {
		return fmt.Errorf("Redis MQ实例为空，无法发送消息")
	}
	return a.redisMQ.SendLedgerEvent(eventID, eventType)
}

// BallotAdmitted 实现生命周期控制器的事件回调
func (a *MQAdapter) BallotAdmitted(eventID string, receipt *models.Receipt) {
	if err := a.SendLedgerEvent(eventID, EventBallotAdmitted); err != nil {
		log.Printf("发送选票准入事件失败: %v", err)
	}
}

// ResultsReleased 实现释放协调器的事件回调
func (a *MQAdapter) ResultsReleased(eventID string) {
	if err := a.SendLedgerEvent(eventID, EventResultsReleased); err != nil {
		log.Printf("发送结果释放事件失败: %v", err)
	}
}

// Close 关闭消息队列
func (a *MQAdapter) Close() {
	if a.rocketEnabled {
		CloseRocketMQ()
	}
	if a.redisEnabled && a.redisMQ != nil {
		a.redisMQ.Stop()
		a.redisClient.Close()
	}
	log.Println("消息队列已关闭")
}

// GetQueueStats 获取队列统计信息
func (a *MQAdapter) GetQueueStats() map[string]interface{} {
	stats := make(map[string]interface{})

	if !a.IsInitialized() {
		stats["status"] = "未初始化"
		return stats
	}

	if a.rocketEnabled {
		stats["type"] = "RocketMQ"
		if IsMockMode() {
			stats["status"] = "模拟模式"
			stats["queued"] = GetQueuedMessageCount()
		} else {
			stats["status"] = "正常运行"
		}
		return stats
	}

	stats["type"] = "Redis MQ"
	if a.redisMQ != nil {
		stats["status"] = "正常运行"
		stats["queues"] = a.redisMQ.GetQueueStats()
	} else {
		stats["status"] = "实例为空"
	}
	return stats
}

// RetryDeadLetters 重试死信队列中的消息（仅Redis MQ模式可用）
func (a *MQAdapter) RetryDeadLetters() error {
	if !a.IsInitialized() {
		return fmt.Errorf("消息队列适配器未初始化")
	}

	if a.redisEnabled && a.redisMQ != nil {
		return a.redisMQ.RetryDeadLetters()
	}

	return fmt.Errorf("当前消息队列模式不支持死信队列操作")
}

// IsInitialized 检查适配器是否已初始化
func (a *MQAdapter) IsInitialized() bool {
	return a.initialized && (a.rocketEnabled || a.redisEnabled)
}
