package cache

import (
	"context"
	"hash/fnv"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// BloomFilter 布隆过滤器实现
// 准入入口用它快速否定不存在的选举ID，拦截缓存穿透
type BloomFilter struct {
	redisClient RedisClient
	key         string
	hashCount   int
}

// NewBloomFilter 创建新的布隆过滤器
func NewBloomFilter(client RedisClient, key string, hashCount int) *BloomFilter {
	return &BloomFilter{
		redisClient: client,
		key:         "bloom:" + key,
		hashCount:   hashCount,
	}
}

// Add 添加元素到布隆过滤器
func (bf *BloomFilter) Add(ctx context.Context, item string) error {
	if bf.redisClient == nil {
		return ErrRedisNotAvailable
	}

	pipe := bf.redisClient.Pipeline()
	for i := 0; i < bf.hashCount; i++ {
		pipe.SetBit(ctx, bf.key, bf.hash(item, i), 1)
	}
	pipe.Expire(ctx, bf.key, 24*time.Hour)

	_, err := pipe.Exec(ctx)
	return err
}

// Contains 检查元素是否可能存在
// 返回false是确定的不存在，返回true只代表可能存在
func (bf *BloomFilter) Contains(ctx context.Context, item string) (bool, error) {
	if bf.redisClient == nil {
		return false, ErrRedisNotAvailable
	}

	pipe := bf.redisClient.Pipeline()
	var cmds []*redis.IntCmd
	for i := 0; i < bf.hashCount; i++ {
		cmds = append(cmds, pipe.GetBit(ctx, bf.key, bf.hash(item, i)))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	for _, cmd := range cmds {
		if cmd.Val() == 0 {
			return false, nil
		}
	}
	return true, nil
}

// hash 计算哈希值，使用不同的种子
func (bf *BloomFilter) hash(key string, seed int) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	h.Write([]byte{byte(seed)})
	return int64(h.Sum64() % uint64(1<<30))
}

// InitEventBloomFilter 初始化选举ID布隆过滤器
func InitEventBloomFilter() *BloomFilter {
	client, err := GetRedisClient()
	if err != nil {
		log.Printf("初始化布隆过滤器失败: %v", err)
		return nil
	}
	return NewBloomFilter(client, "events", 5)
}
