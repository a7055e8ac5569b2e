package release

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"votesecure-backend/cache"
	"votesecure-backend/models"
	"votesecure-backend/store"
	"votesecure-backend/tally"
)

// 释放锁的持有上限，覆盖"确认→计票→写结果"全程
const releaseLockExpiry = 10 * time.Second

var (
	// ErrResultsNotFound 结果记录不存在
	ErrResultsNotFound = errors.New("results not found")

	// ErrTooEarly 未到结果释放时间
	ErrTooEarly = errors.New("confirmation before release time")
)

// EventNotifier 结果释放事件回调，由MQ适配器实现，可为nil
type EventNotifier interface {
	// ResultsReleased 结果首次释放后调用
	ResultsReleased(eventID string)
}

// Outcome 一次确认操作的结果
type Outcome struct {
	Released      bool            `json:"released"`
	Confirmations int             `json:"confirmations"`
	Required      int             `json:"required"`
	Results       *models.Results `json:"results,omitempty"`
}

// Coordinator 门限释放协调器
// 结果记录是其唯一可变状态：确认集合只增，released标志单向翻转
type Coordinator struct {
	ledger   store.Ledger
	locks    cache.LockService
	notifier EventNotifier
	now      func() time.Time
}

// NewCoordinator 创建释放协调器，notifier可为nil
func NewCoordinator(ledger store.Ledger, locks cache.LockService, notifier EventNotifier) *Coordinator {
	return &Coordinator{
		ledger:   ledger,
		locks:    locks,
		notifier: notifier,
		now:      time.Now,
	}
}

// ConfirmRelease 记录一次确认，达到法定人数且过释放时间后触发计票
// 确认是幂等的：同一确认者重复确认只计一次
// 释放是一次性的：结果写入后不再重算，后续确认直接返回已存结果
func (c *Coordinator) ConfirmRelease(ctx context.Context, eventID, confirmerID string) (*Outcome, error) {
	election, err := c.loadElection(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if c.now().Before(election.Schedule.ResultsReleaseTime) {
		return nil, ErrTooEarly
	}

	var outcome *Outcome
	lockName := "release:" + eventID

	err = c.locks.WithLock(lockName, releaseLockExpiry, func() error {
		record, err := c.ledger.Result(ctx, eventID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrResultsNotFound
		}
		if err != nil {
			return fmt.Errorf("读取结果记录失败: %w", err)
		}

		// 已释放：不重算，不再追加确认者，直接返回存储的结果
		if record.Status == models.ResultReleased {
			results, err := record.DecodeResults()
			if err != nil {
				return fmt.Errorf("解析已释放结果失败: %w", err)
			}
			confirmers, err := record.Confirmers()
			if err != nil {
				return err
			}
			outcome = &Outcome{
				Released:      true,
				Confirmations: len(confirmers),
				Required:      election.Release.RequiredConfirmations,
				Results:       results,
			}
			return nil
		}

		added, err := record.AddConfirmer(confirmerID)
		if err != nil {
			return fmt.Errorf("记录确认失败: %w", err)
		}
		confirmers, err := record.Confirmers()
		if err != nil {
			return err
		}

		required := election.Release.RequiredConfirmations
		if len(confirmers) < required {
			if added {
				if err := c.ledger.SaveResult(ctx, record); err != nil {
					return fmt.Errorf("保存确认失败: %w", err)
				}
			}
			outcome = &Outcome{Confirmations: len(confirmers), Required: required}
			return nil
		}

		// 法定人数已凑齐，同步计票并一次性写入结果
		ballots, err := c.ledger.Ballots(ctx, eventID)
		if err != nil {
			return fmt.Errorf("读取选票失败: %w", err)
		}
		results, err := tally.ComputeResults(election, ballots)
		if err != nil {
			return fmt.Errorf("计票失败: %w", err)
		}

		if err := record.SetResults(results); err != nil {
			return fmt.Errorf("序列化结果失败: %w", err)
		}
		releasedAt := c.now()
		record.Status = models.ResultReleased
		record.ReleasedAt = &releasedAt

		if err := c.ledger.SaveResult(ctx, record); err != nil {
			return fmt.Errorf("写入结果失败: %w", err)
		}

		log.Printf("选举结果已释放: %s, 确认数: %d/%d", eventID, len(confirmers), required)

		if c.notifier != nil {
			c.notifier.ResultsReleased(eventID)
		}

		outcome = &Outcome{
			Released:      true,
			Confirmations: len(confirmers),
			Required:      required,
			Results:       results,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// Results 读取已释放的结果，未释放时返回当前确认进度
func (c *Coordinator) Results(ctx context.Context, eventID string) (*Outcome, error) {
	election, err := c.loadElection(ctx, eventID)
	if err != nil {
		return nil, err
	}

	record, err := c.ledger.Result(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrResultsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取结果记录失败: %w", err)
	}

	confirmers, err := record.Confirmers()
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		Confirmations: len(confirmers),
		Required:      election.Release.RequiredConfirmations,
	}

	if record.Status == models.ResultReleased {
		results, err := record.DecodeResults()
		if err != nil {
			return nil, fmt.Errorf("解析已释放结果失败: %w", err)
		}
		outcome.Released = true
		outcome.Results = results
	}
	return outcome, nil
}

// loadElection 读取选举配置，缺失时返回ErrResultsNotFound
func (c *Coordinator) loadElection(ctx context.Context, eventID string) (*models.Election, error) {
	meta, err := c.ledger.Metadata(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrResultsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取选举元数据失败: %w", err)
	}
	return models.UnmarshalConfig(meta.ConfigJSON)
}
