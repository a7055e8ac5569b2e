package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"votesecure-backend/models"
)

// GormLedger 基于GORM的账本实现
type GormLedger struct {
	db *gorm.DB
}

// NewGormLedger 创建GORM账本实例
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// Migrate 迁移账本的四类记录表
func (l *GormLedger) Migrate() error {
	return l.db.AutoMigrate(
		&models.FundRecord{},
		&models.MetadataRecord{},
		&models.BallotRecord{},
		&models.ResultRecord{},
	)
}

// CreateElection 在一个事务内创建三条单例记录
func (l *GormLedger) CreateElection(ctx context.Context, meta *models.MetadataRecord, fund *models.FundRecord, result *models.ResultRecord) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(fund).Error; err != nil {
			return fmt.Errorf("创建资金记录失败: %w", err)
		}
		if err := tx.Create(meta).Error; err != nil {
			return fmt.Errorf("创建元数据记录失败: %w", err)
		}
		if err := tx.Create(result).Error; err != nil {
			return fmt.Errorf("创建结果记录失败: %w", err)
		}
		return nil
	})
}

// Metadata 查询选举元数据记录
func (l *GormLedger) Metadata(ctx context.Context, eventID string) (*models.MetadataRecord, error) {
	var rec models.MetadataRecord
	if err := l.db.WithContext(ctx).Where("event_id = ?", eventID).First(&rec).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &rec, nil
}

// Fund 查询选举资金记录
func (l *GormLedger) Fund(ctx context.Context, eventID string) (*models.FundRecord, error) {
	var rec models.FundRecord
	if err := l.db.WithContext(ctx).Where("event_id = ?", eventID).First(&rec).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &rec, nil
}

// Result 查询选举结果记录
func (l *GormLedger) Result(ctx context.Context, eventID string) (*models.ResultRecord, error) {
	var rec models.ResultRecord
	if err := l.db.WithContext(ctx).Where("event_id = ?", eventID).First(&rec).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &rec, nil
}

// Ballots 按插入顺序返回选举的全部选票
func (l *GormLedger) Ballots(ctx context.Context, eventID string) ([]models.BallotRecord, error) {
	var recs []models.BallotRecord
	if err := l.db.WithContext(ctx).Where("event_id = ?", eventID).Order("id asc").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// VoterBallots 返回某选民的全部选票，按sequence升序
func (l *GormLedger) VoterBallots(ctx context.Context, eventID, voterID string) ([]models.BallotRecord, error) {
	var recs []models.BallotRecord
	err := l.db.WithContext(ctx).
		Where("event_id = ? AND voter_id = ?", eventID, voterID).
		Order("sequence asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// BallotByCommitment 按承诺值检索选票
func (l *GormLedger) BallotByCommitment(ctx context.Context, eventID, commitment string) (*models.BallotRecord, error) {
	var rec models.BallotRecord
	err := l.db.WithContext(ctx).
		Where("event_id = ? AND commitment = ?", eventID, commitment).
		First(&rec).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &rec, nil
}

// AppendBallot 追加选票并扣减资金，两者在同一事务内要么都成功要么都失败
func (l *GormLedger) AppendBallot(ctx context.Context, ballot *models.BallotRecord, cost int64) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 条件更新保证不会扣成负数；WHERE带余额下限，竞争时靠行锁串行化
		res := tx.Model(&models.FundRecord{}).
			Where("event_id = ? AND remaining_amount >= ?", ballot.EventID, cost).
			UpdateColumn("remaining_amount", gorm.Expr("remaining_amount - ?", cost))
		if res.Error != nil {
			return fmt.Errorf("扣减资金失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var fund models.FundRecord
			if err := tx.Where("event_id = ?", ballot.EventID).First(&fund).Error; err != nil {
				return ErrNotFound
			}
			return ErrInsufficientFunds
		}

		if err := tx.Create(ballot).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateSequence
			}
			return fmt.Errorf("追加选票失败: %w", err)
		}
		return nil
	})
}

// SaveResult 写回结果记录
func (l *GormLedger) SaveResult(ctx context.Context, result *models.ResultRecord) error {
	return l.db.WithContext(ctx).Save(result).Error
}

// WithdrawFund 清零资金余额，返回收回的数量
func (l *GormLedger) WithdrawFund(ctx context.Context, eventID string) (int64, error) {
	var reclaimed int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fund models.FundRecord
		if err := tx.Where("event_id = ?", eventID).First(&fund).Error; err != nil {
			return translateNotFound(err)
		}
		reclaimed = fund.RemainingAmount
		if reclaimed == 0 {
			return nil
		}
		return tx.Model(&fund).UpdateColumn("remaining_amount", 0).Error
	})
	if err != nil {
		return 0, err
	}
	return reclaimed, nil
}

// translateNotFound 将GORM的记录缺失错误翻译为账本错误
func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
