package lifecycle

import (
	"context"

	"github.com/google/uuid"
)

// Signer 经济操作的外部签名/广播协作方
// 核心只把容量预留当作不透明副作用，不负责重试
type Signer interface {
	// Reserve 为选举预留容量，返回交易标识
	Reserve(ctx context.Context, eventID string, amount int64) (string, error)
}

// NoopSigner 默认实现，不接链上交易层，本地生成交易标识
type NoopSigner struct{}

// Reserve 直接成功
func (NoopSigner) Reserve(ctx context.Context, eventID string, amount int64) (string, error) {
	return "local-" + uuid.New().String(), nil
}
