package store

import (
	"context"
	"sync"

	"votesecure-backend/models"
)

// MemoryLedger 纯内存账本实现，用于无数据库环境和测试
// 与GormLedger遵循同一接口契约：追加后立即可读，
// 选票与资金扣减原子生效
type MemoryLedger struct {
	mu       sync.RWMutex
	funds    map[string]*models.FundRecord
	metadata map[string]*models.MetadataRecord
	results  map[string]*models.ResultRecord
	ballots  map[string][]models.BallotRecord // eventID -> 插入顺序
	nextID   uint
}

// NewMemoryLedger 创建内存账本
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		funds:    make(map[string]*models.FundRecord),
		metadata: make(map[string]*models.MetadataRecord),
		results:  make(map[string]*models.ResultRecord),
		ballots:  make(map[string][]models.BallotRecord),
		nextID:   1,
	}
}

// CreateElection 原子创建三条单例记录
func (l *MemoryLedger) CreateElection(ctx context.Context, meta *models.MetadataRecord, fund *models.FundRecord, result *models.ResultRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fundCopy := *fund
	metaCopy := *meta
	resultCopy := *result
	l.funds[fund.EventID] = &fundCopy
	l.metadata[meta.EventID] = &metaCopy
	l.results[result.EventID] = &resultCopy
	return nil
}

// Metadata 查询元数据记录
func (l *MemoryLedger) Metadata(ctx context.Context, eventID string) (*models.MetadataRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.metadata[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Fund 查询资金记录
func (l *MemoryLedger) Fund(ctx context.Context, eventID string) (*models.FundRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.funds[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Result 查询结果记录
func (l *MemoryLedger) Result(ctx context.Context, eventID string) (*models.ResultRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.results[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Ballots 按插入顺序返回全部选票
func (l *MemoryLedger) Ballots(ctx context.Context, eventID string) ([]models.BallotRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.BallotRecord, len(l.ballots[eventID]))
	copy(out, l.ballots[eventID])
	return out, nil
}

// VoterBallots 返回某选民的选票，按sequence升序
func (l *MemoryLedger) VoterBallots(ctx context.Context, eventID, voterID string) ([]models.BallotRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.BallotRecord
	for _, b := range l.ballots[eventID] {
		if b.VoterID == voterID {
			out = append(out, b)
		}
	}
	// 插入时已保证sequence递增，无需再排序
	return out, nil
}

// BallotByCommitment 按承诺值检索选票
func (l *MemoryLedger) BallotByCommitment(ctx context.Context, eventID, commitment string) (*models.BallotRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, b := range l.ballots[eventID] {
		if b.Commitment == commitment {
			cp := b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// AppendBallot 追加选票并扣减资金
func (l *MemoryLedger) AppendBallot(ctx context.Context, ballot *models.BallotRecord, cost int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fund, ok := l.funds[ballot.EventID]
	if !ok {
		return ErrNotFound
	}
	for _, b := range l.ballots[ballot.EventID] {
		if b.VoterID == ballot.VoterID && b.Sequence == ballot.Sequence {
			return ErrDuplicateSequence
		}
	}
	if fund.RemainingAmount < cost {
		return ErrInsufficientFunds
	}

	fund.RemainingAmount -= cost
	ballot.ID = l.nextID
	l.nextID++
	l.ballots[ballot.EventID] = append(l.ballots[ballot.EventID], *ballot)
	return nil
}

// SaveResult 写回结果记录
func (l *MemoryLedger) SaveResult(ctx context.Context, result *models.ResultRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *result
	l.results[result.EventID] = &cp
	return nil
}

// WithdrawFund 清零资金余额
func (l *MemoryLedger) WithdrawFund(ctx context.Context, eventID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fund, ok := l.funds[eventID]
	if !ok {
		return 0, ErrNotFound
	}
	reclaimed := fund.RemainingAmount
	fund.RemainingAmount = 0
	return reclaimed, nil
}
