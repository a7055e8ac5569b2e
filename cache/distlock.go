package cache

import (
	"log"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
)

var (
	// rs 全局的Redsync实例
	rs *redsync.Redsync
)

// LockService 锁服务接口
// 准入控制按(选举,选民)加锁，释放协调按选举加锁，实现可以是
// 分布式的（多实例部署）或进程内的（单实例与测试）
type LockService interface {
	// WithLock 在锁内执行操作
	WithLock(lockName string, expiry time.Duration, action func() error) error
}

// DistributedLockService 基于Redsync的分布式锁服务
type DistributedLockService struct {
	rs *redsync.Redsync
}

// InitDistLock 初始化分布式锁
func InitDistLock() {
	client, err := GetClient()
	if err != nil {
		log.Printf("初始化分布式锁失败: %v", err)
		return
	}

	pool := goredis.NewPool(client)
	rs = redsync.New(pool)
	log.Println("分布式锁初始化成功")
}

// GetLockService 获取锁服务实例
// Redis不可用（模拟模式）时降级为进程内锁
func GetLockService() LockService {
	if rs == nil {
		InitDistLock()
	}
	if rs == nil {
		log.Println("使用进程内锁服务")
		return NewLocalLockService()
	}
	return &DistributedLockService{rs: rs}
}

// AcquireLock 尝试获取锁，带有超时时间
func (s *DistributedLockService) AcquireLock(lockName string, expiry time.Duration) (*redsync.Mutex, bool, error) {
	mutex := s.rs.NewMutex(lockName,
		redsync.WithExpiry(expiry),
		redsync.WithTries(5),                        // 最大重试次数
		redsync.WithRetryDelay(50*time.Millisecond), // 重试延迟
		redsync.WithDriftFactor(0.01),               // 时钟漂移因子
	)

	if err := mutex.Lock(); err != nil {
		return nil, false, err
	}
	return mutex, true, nil
}

// ReleaseLock 释放锁
func (s *DistributedLockService) ReleaseLock(mutex *redsync.Mutex) (bool, error) {
	return mutex.Unlock()
}

// WithLock 在锁内执行操作
func (s *DistributedLockService) WithLock(lockName string, expiry time.Duration, action func() error) error {
	mutex, acquired, err := s.AcquireLock(lockName, expiry)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrLockNotAcquired
	}

	defer func() {
		_, _ = s.ReleaseLock(mutex)
	}()

	return action()
}

// LocalLockService 进程内按键互斥锁，单实例部署与测试使用
type LocalLockService struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalLockService 创建进程内锁服务
func NewLocalLockService() *LocalLockService {
	return &LocalLockService{locks: make(map[string]*sync.Mutex)}
}

func (s *LocalLockService) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[name]
	if !ok {
		m = &sync.Mutex{}
		s.locks[name] = m
	}
	return m
}

// WithLock 在锁内执行操作，expiry在进程内实现中被忽略
func (s *LocalLockService) WithLock(lockName string, expiry time.Duration, action func() error) error {
	m := s.lockFor(lockName)
	m.Lock()
	defer m.Unlock()
	return action()
}
