package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/google/uuid"
)

// 账本事件类型
const (
	EventBallotAdmitted  = "ballot_admitted"
	EventResultsReleased = "results_released"
)

// LedgerEvent 账本事件消息结构
type LedgerEvent struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"message_id"` // 用于幂等性处理
}

// EventHandler 账本事件处理函数
type EventHandler func(eventID string, eventType string) error

// 全局RocketMQ生产者
var (
	rocketProducer rocketmq.Producer
	initOnce       sync.Once
	isInitialized  bool
	mockMode       bool
	mockMessages   = make([]LedgerEvent, 0) // 模拟消息存储
	mockMutex      sync.Mutex
	processHandler EventHandler

	// 幂等性处理相关
	processedMessages      = make(map[string]bool)
	processedMessagesMutex sync.RWMutex
)

// 主题常量
const (
	TopicLedgerEvents = "ledger_events"
)

// InitRocketMQ 初始化RocketMQ生产者
// 连接失败时降级为模拟模式：消息直接投递给进程内处理函数
func InitRocketMQ() error {
	var initErr error

	initOnce.Do(func() {
		if os.Getenv("ROCKETMQ_MOCK") == "true" {
			log.Println("强制使用RocketMQ模拟模式")
			mockMode = true
			isInitialized = true
			return
		}

		nameServerAddr := os.Getenv("ROCKETMQ_NAMESRV_ADDR")
		if nameServerAddr == "" {
			nameServerAddr = "localhost:9876"
		}

		log.Printf("初始化RocketMQ连接, 地址: %s", nameServerAddr)

		p, err := rocketmq.NewProducer(
			producer.WithNameServer([]string{nameServerAddr}),
			producer.WithGroupName("ledger_event_producer"),
			producer.WithRetry(2),
			producer.WithSendMsgTimeout(time.Second*10),
			producer.WithVIPChannel(false),
		)
		if err != nil {
			log.Printf("创建RocketMQ生产者失败: %v，将使用模拟模式", err)
			mockMode = true
			isInitialized = true
			return
		}

		if err := p.Start(); err != nil {
			log.Printf("启动RocketMQ生产者失败: %v，将使用模拟模式", err)
			mockMode = true
			isInitialized = true
			return
		}

		rocketProducer = p
		isInitialized = true
		mockMode = false
		log.Println("RocketMQ生产者初始化成功")
	})

	return initErr
}

// IsMockMode 检查是否处于模拟模式
func IsMockMode() bool {
	return mockMode
}

// IsInitialized 检查RocketMQ是否已初始化
func IsInitialized() bool {
	return isInitialized && (mockMode || rocketProducer != nil)
}

// generateMessageID 生成唯一的消息ID
func generateMessageID() string {
	return uuid.New().String()
}

// isMessageProcessed 幂等性检查
func isMessageProcessed(messageID string) bool {
	processedMessagesMutex.RLock()
	defer processedMessagesMutex.RUnlock()
	return processedMessages[messageID]
}

// markMessageAsProcessed 标记消息为已处理
func markMessageAsProcessed(messageID string) {
	processedMessagesMutex.Lock()
	defer processedMessagesMutex.Unlock()
	processedMessages[messageID] = true

	// 过期清理，避免映射无限增长
	go func(id string) {
		time.Sleep(24 * time.Hour)
		processedMessagesMutex.Lock()
		delete(processedMessages, id)
		processedMessagesMutex.Unlock()
	}(messageID)
}

// SendLedgerEvent 发送账本事件到RocketMQ
// 以eventID作为分区键，同一选举的事件路由到同一队列保证顺序
func SendLedgerEvent(eventID string, eventType string) error {
	if !isInitialized {
		return fmt.Errorf("RocketMQ生产者未初始化")
	}

	messageID := generateMessageID()
	msg := LedgerEvent{
		EventID:   eventID,
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		MessageID: messageID,
	}

	// 模拟模式下的消息处理
	if mockMode {
		mockMutex.Lock()
		mockMessages = append(mockMessages, msg)
		mockMutex.Unlock()

		if processHandler != nil {
			go func() {
				if isMessageProcessed(messageID) {
					return
				}
				if err := processHandler(eventID, eventType); err != nil {
					log.Printf("模拟模式: 处理账本事件失败: %v", err)
				} else {
					markMessageAsProcessed(messageID)
				}
			}()
		}
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %v", err)
	}

	message := primitive.NewMessage(TopicLedgerEvents, body)
	message.WithTag(eventType)
	message.WithKeys([]string{messageID})
	message.WithShardingKey(eventID)

	res, err := rocketProducer.SendSync(context.Background(), message)
	if err != nil {
		log.Printf("发送账本事件失败: %v", err)
		return fmt.Errorf("发送账本事件失败: %v", err)
	}

	log.Printf("账本事件已发送, MsgID: %s, MessageID: %s, 队列: %s",
		res.MsgID, messageID, res.MessageQueue.String())
	return nil
}

// StartLedgerConsumer 启动账本事件消费者（顺序消费）
func StartLedgerConsumer(processFunc EventHandler) error {
	processHandler = processFunc

	// 模拟模式下不需要创建真实消费者
	if mockMode {
		log.Println("模拟模式: 账本事件消费者启动")
		return nil
	}

	nameServerAddr := os.Getenv("ROCKETMQ_NAMESRV_ADDR")
	if nameServerAddr == "" {
		nameServerAddr = "localhost:9876"
	}

	c, err := rocketmq.NewPushConsumer(
		consumer.WithNameServer([]string{nameServerAddr}),
		consumer.WithGroupName("ledger_event_consumer"),
		consumer.WithConsumerModel(consumer.Clustering),
		consumer.WithConsumeFromWhere(consumer.ConsumeFromLastOffset),
		consumer.WithConsumerOrder(true), // 同一选举内顺序消费
	)
	if err != nil {
		return fmt.Errorf("创建账本事件消费者失败: %v", err)
	}

	err = c.Subscribe(TopicLedgerEvents, consumer.MessageSelector{},
		func(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
			for _, msg := range msgs {
				var event LedgerEvent
				if err := json.Unmarshal(msg.Body, &event); err != nil {
					log.Printf("解析账本事件失败: %v", err)
					continue
				}

				if isMessageProcessed(event.MessageID) {
					log.Printf("账本事件已处理过，跳过: %s", event.MessageID)
					continue
				}

				log.Printf("收到账本事件: Event=%s, Type=%s, MessageID=%s",
					event.EventID, event.Type, event.MessageID)

				if err := processFunc(event.EventID, event.Type); err != nil {
					log.Printf("处理账本事件失败: %v", err)
					return consumer.ConsumeRetryLater, nil
				}

				markMessageAsProcessed(event.MessageID)
			}
			return consumer.ConsumeSuccess, nil
		})
	if err != nil {
		return fmt.Errorf("订阅主题失败: %v", err)
	}

	if err = c.Start(); err != nil {
		return fmt.Errorf("启动消费者失败: %v", err)
	}

	log.Println("账本事件消费者启动成功")
	return nil
}

// CloseRocketMQ 关闭RocketMQ连接
func CloseRocketMQ() {
	if mockMode {
		return
	}

	if rocketProducer != nil {
		if err := rocketProducer.Shutdown(); err != nil {
			log.Printf("关闭RocketMQ生产者失败: %v", err)
		} else {
			log.Println("RocketMQ生产者已关闭")
		}
	}
}

// GetQueuedMessageCount 获取队列中的消息数量（仅模拟模式）
func GetQueuedMessageCount() int {
	if !mockMode {
		return -1
	}

	mockMutex.Lock()
	defer mockMutex.Unlock()
	return len(mockMessages)
}
