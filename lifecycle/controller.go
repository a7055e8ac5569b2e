package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"votesecure-backend/cache"
	"votesecure-backend/commitment"
	"votesecure-backend/models"
	"votesecure-backend/store"
	"votesecure-backend/tally"
)

// 准入锁的持有上限，覆盖"读计数→校验→追加"全程
const admissionLockExpiry = 5 * time.Second

// EventNotifier 账本事件回调，由MQ适配器实现，可为nil
type EventNotifier interface {
	// BallotAdmitted 一张选票成功准入后调用
	BallotAdmitted(eventID string, receipt *models.Receipt)
}

// BallotSubmission 选民提交的一张选票
type BallotSubmission struct {
	EventID string                 `json:"event_id"`
	Payload string                 `json:"payload"` // 密封后的载荷，核心不解读
	Answers models.Answers         `json:"answers"`
	Groups  models.GroupAttributes `json:"groups,omitempty"`
}

// PublishResult 发布操作的返回：配置回显、邀请材料与私钥引用
// 私钥引用只在此处交还组织者一次，绝不写入账本
type PublishResult struct {
	Election      *models.Election       `json:"election"`
	Invite        *models.InviteMaterial `json:"invite"`
	PrivateKeyRef string                 `json:"private_key_ref"`
	FundAmount    int64                  `json:"fund_amount"`
	TxID          string                 `json:"tx_id"`
}

// Controller 选举生命周期控制器
// 发布、选票准入、纳入证明、状态与统计查询、资金提取都经由此处
type Controller struct {
	ledger        store.Ledger
	locks         cache.LockService
	signer        Signer
	notifier      EventNotifier
	now           func() time.Time
	registerEvent func(ctx context.Context, eventID string)
}

// NewController 创建生命周期控制器
// signer为nil时使用NoopSigner，notifier可为nil
func NewController(ledger store.Ledger, locks cache.LockService, signer Signer, notifier EventNotifier) *Controller {
	if signer == nil {
		signer = NoopSigner{}
	}
	return &Controller{
		ledger:        ledger,
		locks:         locks,
		signer:        signer,
		notifier:      notifier,
		now:           time.Now,
		registerEvent: registerEventID,
	}
}

// registerEventID 把新选举ID写入布隆过滤器，供存在性预检拦截无效ID
// 无真实Redis时布隆过滤器不可用，跳过
func registerEventID(ctx context.Context, eventID string) {
	bf := cache.InitEventBloomFilter()
	if bf == nil {
		return
	}
	if err := bf.Add(ctx, "event:"+eventID); err != nil {
		log.Printf("布隆过滤器写入失败 %s: %v", eventID, err)
	}
}

// Publish 发布选举：校验时间安排，估算并预留资金，
// 原子创建Fund/Metadata/Result三条记录，派生邀请材料
func (c *Controller) Publish(ctx context.Context, cfg *models.Election, organizerID string) (*PublishResult, error) {
	if !cfg.Schedule.StartTime.Before(cfg.Schedule.EndTime) ||
		!cfg.Schedule.EndTime.Before(cfg.Schedule.ResultsReleaseTime) {
		return nil, ErrInvalidSchedule
	}

	election := *cfg
	election.EventID = uuid.New().String()
	election.OrganizerID = organizerID
	election.CreatedAt = c.now()
	if election.AllowedUpdates < 1 {
		election.AllowedUpdates = 1
	}
	if election.Release.RequiredConfirmations < 1 {
		election.Release.RequiredConfirmations = 1
	}

	fundAmount := EstimateCost(election.EstimatedVoters, election.AllowedUpdates)

	txID, err := c.signer.Reserve(ctx, election.EventID, fundAmount)
	if err != nil {
		return nil, fmt.Errorf("容量预留失败: %w", err)
	}

	encryptionKey, privateKeyRef, err := generateSealingKey()
	if err != nil {
		return nil, fmt.Errorf("生成加密密钥失败: %w", err)
	}

	configJSON, err := election.MarshalConfig()
	if err != nil {
		return nil, fmt.Errorf("序列化选举配置失败: %w", err)
	}

	err = c.ledger.CreateElection(ctx,
		&models.MetadataRecord{
			EventID:       election.EventID,
			Kind:          models.KindMetadata,
			ConfigJSON:    configJSON,
			EncryptionKey: encryptionKey,
		},
		&models.FundRecord{
			EventID:         election.EventID,
			Kind:            models.KindFund,
			InitialAmount:   fundAmount,
			RemainingAmount: fundAmount,
		},
		&models.ResultRecord{
			EventID: election.EventID,
			Kind:    models.KindResult,
			Status:  models.ResultLocked,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("创建选举记录失败: %w", err)
	}

	// 预热配置缓存并登记布隆过滤器，缓存不可用时后续读取直接回源
	_ = cache.CacheElectionConfig(election.EventID, configJSON)
	c.registerEvent(ctx, election.EventID)

	log.Printf("选举已发布: %s, 资金: %d, 交易: %s", election.EventID, fundAmount, txID)

	return &PublishResult{
		Election:      &election,
		Invite:        deriveInviteMaterial(&election),
		PrivateKeyRef: privateKeyRef,
		FundAmount:    fundAmount,
		TxID:          txID,
	}, nil
}

// SubmitBallot 选票准入，校验顺序固定：
// 存在性 → 投票窗口 → 重投上限 → 资金余额
// 全程持有(选举,选民)粒度的锁，保证sequence的唯一分配
func (c *Controller) SubmitBallot(ctx context.Context, sub *BallotSubmission, voterID string) (*models.Receipt, error) {
	election, err := c.loadElection(ctx, sub.EventID)
	if err != nil {
		return nil, err
	}

	var receipt *models.Receipt
	lockName := fmt.Sprintf("admission:%s:%s", sub.EventID, voterID)

	err = c.locks.WithLock(lockName, admissionLockExpiry, func() error {
		var innerErr error
		receipt, innerErr = c.admit(ctx, election, sub, voterID)

		// DuplicateSequence说明锁竞争而非调用方误用，透明重试一次
		if errors.Is(innerErr, store.ErrDuplicateSequence) {
			log.Printf("选票sequence竞争, 重试一次: %s/%s", sub.EventID, voterID)
			receipt, innerErr = c.admit(ctx, election, sub, voterID)
		}
		return innerErr
	})
	if err != nil {
		return nil, err
	}

	if c.notifier != nil {
		c.notifier.BallotAdmitted(sub.EventID, receipt)
	}
	return receipt, nil
}

// admit 单次准入尝试，调用方负责持锁
func (c *Controller) admit(ctx context.Context, election *models.Election, sub *BallotSubmission, voterID string) (*models.Receipt, error) {
	now := c.now()
	if now.Before(election.Schedule.StartTime) {
		return nil, ErrVotingNotOpen
	}
	if !now.Before(election.Schedule.EndTime) {
		return nil, ErrVotingClosed
	}

	prior, err := c.ledger.VoterBallots(ctx, election.EventID, voterID)
	if err != nil {
		return nil, fmt.Errorf("查询历史选票失败: %w", err)
	}
	if len(prior) >= election.AllowedUpdates {
		return nil, ErrUpdateLimitExceeded
	}

	sequence := len(prior) + 1
	digest, err := commitment.Commit(commitment.Ballot{
		Timestamp: now,
		EventID:   election.EventID,
		VoterID:   voterID,
		Answers:   sub.Answers,
	})
	if err != nil {
		return nil, fmt.Errorf("计算选票承诺失败: %w", err)
	}

	record := &models.BallotRecord{
		EventID:    election.EventID,
		Kind:       models.KindBallot,
		VoterID:    voterID,
		Sequence:   sequence,
		Payload:    sub.Payload,
		Commitment: digest,
		Timestamp:  now,
	}
	if err := record.SetAnswers(sub.Answers); err != nil {
		return nil, fmt.Errorf("序列化作答失败: %w", err)
	}
	if err := record.SetGroups(sub.Groups); err != nil {
		return nil, fmt.Errorf("序列化分组属性失败: %w", err)
	}

	if err := c.ledger.AppendBallot(ctx, record, BallotCost); err != nil {
		return nil, err
	}

	return &models.Receipt{Commitment: digest, Sequence: sequence, Timestamp: now}, nil
}

// VerifyInclusion 纳入证明查询，纯读操作
func (c *Controller) VerifyInclusion(ctx context.Context, eventID, digest string) (*models.InclusionResult, error) {
	if _, err := c.loadElection(ctx, eventID); err != nil {
		return nil, err
	}

	record, err := c.ledger.BallotByCommitment(ctx, eventID, digest)
	if errors.Is(err, store.ErrNotFound) {
		return &models.InclusionResult{Included: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询选票承诺失败: %w", err)
	}

	ts := record.Timestamp
	return &models.InclusionResult{Included: true, Sequence: record.Sequence, Timestamp: &ts}, nil
}

// GetElection 读取选举配置与推导状态
func (c *Controller) GetElection(ctx context.Context, eventID string) (*models.Election, models.ElectionStatus, error) {
	election, err := c.loadElection(ctx, eventID)
	if err != nil {
		return nil, "", err
	}

	released, err := c.resultsReleased(ctx, eventID)
	if err != nil {
		return nil, "", err
	}

	return election, models.DeriveStatus(election.Schedule, released, c.now()), nil
}

// LiveStatistics 运行期统计：选票数、独立选民数、分组计数
// 不经过k-匿名合并，属于运营视图而非公开披露
func (c *Controller) LiveStatistics(ctx context.Context, eventID string) (*models.LiveStatistics, error) {
	election, err := c.loadElection(ctx, eventID)
	if err != nil {
		return nil, err
	}

	ballots, err := c.ledger.Ballots(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("读取选票失败: %w", err)
	}

	released, err := c.resultsReleased(ctx, eventID)
	if err != nil {
		return nil, err
	}

	return tally.BuildLiveStats(election, ballots, released, c.now())
}

// WithdrawRemaining 选举结束后由组织者提取剩余资金
func (c *Controller) WithdrawRemaining(ctx context.Context, eventID, organizerID string) (int64, error) {
	election, err := c.loadElection(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if election.OrganizerID != organizerID {
		return 0, ErrNotOrganizer
	}
	if c.now().Before(election.Schedule.EndTime) {
		return 0, ErrElectionActive
	}

	reclaimed, err := c.ledger.WithdrawFund(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("提取资金失败: %w", err)
	}

	log.Printf("资金已提取: %s, 回收: %d", eventID, reclaimed)
	return reclaimed, nil
}

// loadElection 读取并解析选举配置，缺失时返回ErrElectionNotFound
// 配置发布后不可变，优先读缓存；未命中回源账本并回填，
// 不存在的ID写入空值标记防止反复穿透
func (c *Controller) loadElection(ctx context.Context, eventID string) (*models.Election, error) {
	if cached, err := cache.GetCachedElectionConfig(eventID); err == nil {
		if cached == "NULL" {
			return nil, ErrElectionNotFound
		}
		election, err := models.UnmarshalConfig(cached)
		if err == nil {
			return election, nil
		}
		log.Printf("缓存的选举配置无效 %s: %v", eventID, err)
		cache.InvalidateElectionConfig(eventID)
	}

	meta, err := c.ledger.Metadata(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		cache.CacheNullElection(eventID)
		return nil, ErrElectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取选举元数据失败: %w", err)
	}

	_ = cache.CacheElectionConfig(eventID, meta.ConfigJSON)

	election, err := models.UnmarshalConfig(meta.ConfigJSON)
	if err != nil {
		return nil, fmt.Errorf("解析选举配置失败: %w", err)
	}
	return election, nil
}

// resultsReleased 结果是否已释放
func (c *Controller) resultsReleased(ctx context.Context, eventID string) (bool, error) {
	result, err := c.ledger.Result(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取结果记录失败: %w", err)
	}
	return result.Status == models.ResultReleased, nil
}

// generateSealingKey 生成密封选票用的密钥对
// 公钥写入Metadata记录，私钥引用只交还组织者
func generateSealingKey() (publicKey, privateKeyRef string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	return "0x" + hex.EncodeToString(raw), "keyref-" + uuid.New().String(), nil
}

// deriveInviteMaterial 按资格策略派生邀请材料，纯派生数据
func deriveInviteMaterial(e *models.Election) *models.InviteMaterial {
	switch e.Eligibility {
	case models.EligibilityInviteKey:
		return &models.InviteMaterial{InviteKey: uuid.New().String()}
	case models.EligibilityPerVoterKey:
		keys := make(map[string]string, e.EstimatedVoters)
		for i := 0; i < e.EstimatedVoters; i++ {
			keys[fmt.Sprintf("voter-%d", i+1)] = uuid.New().String()
		}
		return &models.InviteMaterial{VoterKeys: keys}
	case models.EligibilityCurated:
		keys := make(map[string]string, len(e.CuratedVoters))
		for _, voterID := range e.CuratedVoters {
			keys[voterID] = uuid.New().String()
		}
		return &models.InviteMaterial{VoterKeys: keys}
	default:
		return &models.InviteMaterial{PublicLink: "/vote/" + e.EventID}
	}
}
