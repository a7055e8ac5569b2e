package cache

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// 全局Redis客户端
var (
	redisClient *redis.Client
	redisCtx    = context.Background()
	initOnce    sync.Once
	initialized bool

	// 缓存默认过期时间
	defaultExpiration = 1 * time.Hour
	// 空值缓存过期时间（用于缓存穿透）
	nullExpiration = 5 * time.Minute
	// 缓存时间抖动系数
	jitterFactor = 0.2
	// 锁超时时间
	lockTimeout = 5 * time.Second
)

// InitRedis 初始化Redis连接
// 连接失败时自动降级为模拟模式，所有缓存与锁操作转为进程内实现
func InitRedis() error {
	initOnce.Do(func() {
		// 检查是否强制使用模拟模式
		if os.Getenv("REDIS_MOCK") == "true" {
			log.Println("强制使用Redis模拟模式")
			mockMode = true
			initialized = true
			return
		}

		redisAddr := os.Getenv("REDIS_ADDR")
		redisPassword := os.Getenv("REDIS_PASSWORD")
		redisDb := 0

		if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
			if db, err := strconv.Atoi(dbStr); err == nil {
				redisDb = db
			}
		}

		if redisAddr == "" {
			redisAddr = "localhost:6379"
		}

		log.Printf("初始化Redis连接, 地址: %s", redisAddr)

		client := redis.NewClient(&redis.Options{
			Addr:        redisAddr,
			Password:    redisPassword,
			DB:          redisDb,
			DialTimeout: 3 * time.Second,
			ReadTimeout: 3 * time.Second,
			PoolSize:    10,
		})

		if _, err := client.Ping(redisCtx).Result(); err != nil {
			log.Printf("Redis连接失败: %v，将使用模拟模式", err)
			mockMode = true
			initialized = true
			return
		}

		redisClient = client
		initialized = true
		mockMode = false
		log.Println("Redis连接初始化成功")
	})

	return nil
}

// GetClient 获取Redis客户端实例
func GetClient() (*redis.Client, error) {
	if !initialized {
		return nil, fmt.Errorf("Redis客户端未初始化")
	}
	if mockMode {
		return nil, fmt.Errorf("处于模拟模式，无法获取真实客户端")
	}
	return redisClient, nil
}

// IsMockMode 当前是否处于模拟模式
func IsMockMode() bool {
	return mockMode
}

// electionConfigKey 选举配置缓存键
func electionConfigKey(eventID string) string {
	return "election:config:" + eventID
}

// CacheElectionConfig 缓存选举配置JSON，配置不可变故用长过期加抖动
func CacheElectionConfig(eventID string, configJSON string) error {
	if !initialized {
		return fmt.Errorf("Redis客户端未初始化")
	}

	key := electionConfigKey(eventID)

	if mockMode {
		mockMutex.Lock()
		defer mockMutex.Unlock()
		mockData[key] = configJSON
		return nil
	}

	// 添加随机抖动，防止缓存雪崩
	jitter := time.Duration(float64(defaultExpiration) * (1 + jitterFactor*(0.5-rand.Float64())))
	return redisClient.Set(redisCtx, key, configJSON, jitter).Err()
}

// GetCachedElectionConfig 读取选举配置缓存，未命中返回ErrKeyNotFound
func GetCachedElectionConfig(eventID string) (string, error) {
	if !initialized {
		return "", fmt.Errorf("Redis客户端未初始化")
	}

	key := electionConfigKey(eventID)

	if mockMode {
		mockMutex.Lock()
		defer mockMutex.Unlock()
		if data, ok := mockData[key]; ok {
			return data, nil
		}
		return "", ErrKeyNotFound
	}

	data, err := redisClient.Get(redisCtx, key).Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("查询缓存失败: %v", err)
	}
	return data, nil
}

// InvalidateElectionConfig 删除选举配置缓存（释放结果后状态已变）
func InvalidateElectionConfig(eventID string) {
	if !initialized {
		return
	}

	key := electionConfigKey(eventID)

	if mockMode {
		mockMutex.Lock()
		defer mockMutex.Unlock()
		delete(mockData, key)
		return
	}

	if err := redisClient.Del(redisCtx, key).Err(); err != nil {
		log.Printf("删除缓存失败 %s: %v", key, err)
	}
}

// CacheNullElection 缓存空值标记，防止对不存在的选举ID反复穿透到数据库
func CacheNullElection(eventID string) {
	if !initialized {
		return
	}

	key := electionConfigKey(eventID)

	if mockMode {
		mockMutex.Lock()
		defer mockMutex.Unlock()
		mockData[key] = "NULL"
		return
	}

	redisClient.Set(redisCtx, key, "NULL", nullExpiration)
}

// AcquireLock 获取分布式锁（SetNX），redsync不可用时的轻量方案
func AcquireLock(lockKey string, expiration time.Duration) (bool, error) {
	if !initialized {
		return false, fmt.Errorf("Redis客户端未初始化")
	}

	key := "ledger:lock:" + lockKey

	if mockMode {
		mockMutex.Lock()
		defer mockMutex.Unlock()

		if locked, exists := mockLocks[key]; exists && locked {
			return false, nil
		}
		mockLocks[key] = true
		return true, nil
	}

	success, err := redisClient.SetNX(redisCtx, key, "1", expiration).Result()
	if err != nil {
		return false, fmt.Errorf("获取锁失败: %v", err)
	}
	return success, nil
}

// ReleaseLock 释放分布式锁
func ReleaseLock(lockKey string) error {
	if !initialized {
		return fmt.Errorf("Redis客户端未初始化")
	}

	key := "ledger:lock:" + lockKey

	if mockMode {
		mockMutex.Lock()
		defer mockMutex.Unlock()
		delete(mockLocks, key)
		return nil
	}

	if _, err := redisClient.Del(redisCtx, key).Result(); err != nil {
		return fmt.Errorf("释放锁失败: %v", err)
	}
	return nil
}

// CloseRedis 关闭Redis连接
func CloseRedis() {
	if initialized && !mockMode && redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Printf("关闭Redis连接错误: %v", err)
		}
		log.Println("Redis连接已关闭")
	}
}
