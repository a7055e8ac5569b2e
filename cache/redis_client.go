package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient 定义Redis客户端接口，便于测试时替换
type RedisClient interface {
	// 基本操作
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd

	// 管道操作
	Pipeline() redis.Pipeliner

	// 位操作（布隆过滤器）
	SetBit(ctx context.Context, key string, offset int64, value int) *redis.IntCmd
	GetBit(ctx context.Context, key string, offset int64) *redis.IntCmd

	// 集合操作（确认者集合、选民去重）
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SCard(ctx context.Context, key string) *redis.IntCmd

	// 有序集合操作（滑动窗口限流）
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd

	// Lua脚本（令牌桶限流）
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisWrapper 包装redis.Client，实现RedisClient接口
type RedisWrapper struct {
	client *redis.Client
}

// NewRedisWrapper 创建Redis客户端包装器
func NewRedisWrapper(client *redis.Client) *RedisWrapper {
	return &RedisWrapper{client: client}
}

func (r *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return r.client.Set(ctx, key, value, expiration)
}

func (r *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	return r.client.Get(ctx, key)
}

func (r *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return r.client.Del(ctx, keys...)
}

func (r *RedisWrapper) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	return r.client.Exists(ctx, keys...)
}

func (r *RedisWrapper) Incr(ctx context.Context, key string) *redis.IntCmd {
	return r.client.Incr(ctx, key)
}

func (r *RedisWrapper) IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd {
	return r.client.IncrBy(ctx, key, value)
}

func (r *RedisWrapper) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return r.client.Expire(ctx, key, expiration)
}

func (r *RedisWrapper) TTL(ctx context.Context, key string) *redis.DurationCmd {
	return r.client.TTL(ctx, key)
}

func (r *RedisWrapper) Pipeline() redis.Pipeliner {
	return r.client.Pipeline()
}

func (r *RedisWrapper) SetBit(ctx context.Context, key string, offset int64, value int) *redis.IntCmd {
	return r.client.SetBit(ctx, key, offset, value)
}

func (r *RedisWrapper) GetBit(ctx context.Context, key string, offset int64) *redis.IntCmd {
	return r.client.GetBit(ctx, key, offset)
}

func (r *RedisWrapper) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	return r.client.SAdd(ctx, key, members...)
}

func (r *RedisWrapper) SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd {
	return r.client.SIsMember(ctx, key, member)
}

func (r *RedisWrapper) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	return r.client.SMembers(ctx, key)
}

func (r *RedisWrapper) SCard(ctx context.Context, key string) *redis.IntCmd {
	return r.client.SCard(ctx, key)
}

func (r *RedisWrapper) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	return r.client.ZAdd(ctx, key, members...)
}

func (r *RedisWrapper) ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd {
	return r.client.ZRemRangeByScore(ctx, key, min, max)
}

func (r *RedisWrapper) ZCard(ctx context.Context, key string) *redis.IntCmd {
	return r.client.ZCard(ctx, key)
}

func (r *RedisWrapper) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	return r.client.ZRem(ctx, key, members...)
}

func (r *RedisWrapper) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return r.client.Eval(ctx, script, keys, args...)
}

// GetRedisClient 获取Redis客户端包装器
func GetRedisClient() (RedisClient, error) {
	client, err := GetClient()
	if err != nil {
		return nil, err
	}
	return NewRedisWrapper(client), nil
}
