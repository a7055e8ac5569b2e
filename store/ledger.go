// Package store 实现选举账本（Record Store）：按记录类型追加与查询，
// 选票与资金的变更在同一事务内完成。
package store

import (
	"context"
	"errors"

	"votesecure-backend/models"
)

var (
	// ErrNotFound 目标记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateSequence 相同(eventID, voterID, sequence)的选票已存在
	ErrDuplicateSequence = errors.New("duplicate ballot sequence")
	// ErrInsufficientFunds 资金记录余额不足以覆盖一张选票
	ErrInsufficientFunds = errors.New("insufficient fund capacity")
)

// Ledger 定义账本访问接口
// 记录一经追加不可变；唯一的就地变更是ResultRecord的确认集合
// 与一次性的released翻转，由门限释放协调器在持锁状态下通过
// SaveResult写回。追加后立即可读（read-your-writes）。
type Ledger interface {
	// CreateElection 原子地创建Fund/Metadata/Result三条记录
	// 要么全部落账要么全部失败，不存在部分创建的可观察状态
	CreateElection(ctx context.Context, meta *models.MetadataRecord, fund *models.FundRecord, result *models.ResultRecord) error

	// 单例记录查询，缺失时返回ErrNotFound
	Metadata(ctx context.Context, eventID string) (*models.MetadataRecord, error)
	Fund(ctx context.Context, eventID string) (*models.FundRecord, error)
	Result(ctx context.Context, eventID string) (*models.ResultRecord, error)

	// Ballots 返回选举的全部选票，按插入顺序
	Ballots(ctx context.Context, eventID string) ([]models.BallotRecord, error)
	// VoterBallots 返回某选民在选举内的全部选票，按sequence升序
	VoterBallots(ctx context.Context, eventID, voterID string) ([]models.BallotRecord, error)
	// BallotByCommitment 按承诺值检索选票，缺失时返回ErrNotFound
	BallotByCommitment(ctx context.Context, eventID, commitment string) (*models.BallotRecord, error)

	// AppendBallot 追加一条选票并从资金记录原子扣减cost
	// sequence冲突返回ErrDuplicateSequence，余额不足返回ErrInsufficientFunds，
	// 两种失败都不产生任何落账
	AppendBallot(ctx context.Context, ballot *models.BallotRecord, cost int64) error

	// SaveResult 写回结果记录（确认集合或释放翻转）
	SaveResult(ctx context.Context, result *models.ResultRecord) error

	// WithdrawFund 将资金余额清零并返回收回的数量
	WithdrawFund(ctx context.Context, eventID string) (int64, error)
}
