package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"votesecure-backend/cache"
	"votesecure-backend/handlers"
	"votesecure-backend/lifecycle"
	"votesecure-backend/mq"
	"votesecure-backend/release"
	"votesecure-backend/routes"
	"votesecure-backend/store"
)

// 全局消息队列适配器
var mqAdapter *mq.MQAdapter

func main() {
	// 初始化数据库连接
	if err := store.InitDB(); err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("数据库连接初始化成功")

	// 初始化Redis连接
	if err := cache.InitRedis(); err != nil {
		log.Printf("警告: Redis初始化失败: %v", err)
	} else {
		log.Println("Redis连接初始化成功")
	}

	// 初始化分布式锁
	cache.InitDistLock()

	// 初始化布隆过滤器
	if bloomFilter := cache.InitEventBloomFilter(); bloomFilter != nil {
		log.Println("布隆过滤器初始化成功")
	}

	// 初始化消息队列适配器（自动选择RocketMQ或Redis MQ）
	mqAdapter = mq.NewMQAdapter()
	if err := mqAdapter.Initialize(); err != nil {
		log.Printf("警告: 消息队列初始化失败，将使用内存模式: %v", err)
	}

	// 组装账本与业务服务
	ledger := store.NewGormLedger(store.DB)
	locks := cache.GetLockService()
	controller := lifecycle.NewController(ledger, locks, nil, mqAdapter)
	coordinator := release.NewCoordinator(ledger, locks, mqAdapter)

	// 注册账本事件处理函数：事件到达后推送最新统计
	err := mqAdapter.RegisterHandler(func(eventID string, eventType string) error {
		return broadcastEventUpdate(controller, eventID, eventType)
	})
	if err != nil {
		log.Printf("警告: 注册消息处理函数失败: %v", err)
	} else {
		log.Println("消息队列处理函数注册成功")
	}

	// 将服务依赖传递给处理程序
	handlers.InitHandler(controller, coordinator, mqAdapter)

	// 设置路由
	router := routes.SetupRouter()
	log.Println("路由设置完成")

	// 启动服务器
	srv := routes.StartServer(router)
	log.Println("服务器启动成功")

	// 输出消息队列状态
	log.Printf("消息队列状态: %v", mqAdapter.GetQueueStats())

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("关闭服务器...")

	// 创建一个5秒超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 不接受新请求并等待现有请求完成
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务器强制关闭: %v", err)
	}

	// 关闭数据库和消息队列连接
	store.CloseDB()
	cache.CloseRedis()
	mqAdapter.Close()

	log.Println("服务器优雅关闭")
}

// broadcastEventUpdate 消费账本事件并向订阅客户端推送最新统计
func broadcastEventUpdate(controller *lifecycle.Controller, eventID string, eventType string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := controller.LiveStatistics(ctx, eventID)
	if err != nil {
		log.Printf("错误: 无法获取选举 %s 的统计: %v", eventID, err)
		return err
	}

	// 结果释放事件同时失效配置缓存，状态已发生变化
	if eventType == mq.EventResultsReleased {
		cache.InvalidateElectionConfig(eventID)
	}

	handlers.BroadcastLiveStats(eventID, stats)
	handlers.BroadcastSSEUpdate(eventID, stats)
	return nil
}
