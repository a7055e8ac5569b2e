package models

import (
	"encoding/json"
	"time"
)

// EligibilityPolicy 选民资格策略
type EligibilityPolicy string

const (
	EligibilityOpen        EligibilityPolicy = "open"          // 公开投票，任何人可参与
	EligibilityInviteKey   EligibilityPolicy = "invite-key"    // 共享邀请密钥
	EligibilityPerVoterKey EligibilityPolicy = "per-voter-key" // 每位选民独立密钥
	EligibilityCurated     EligibilityPolicy = "curated-list"  // 预先指定的选民名单
)

// ReportingGranularity 结果披露粒度
type ReportingGranularity string

const (
	ReportTotalsOnly ReportingGranularity = "totals-only" // 仅公布总计
	ReportByGroup    ReportingGranularity = "by-group"    // 按分组公布
)

// MergedGroupKey 低于匿名阈值的分组合并后的桶名
const MergedGroupKey = "_other_merged"

// DefaultGroupKey 未配置分组字段时的唯一桶名
const DefaultGroupKey = "_all"

// UnknownGroupValue 选票缺失分组字段时的占位值
const UnknownGroupValue = "unknown"

// Option 候选选项
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question 选举问题
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Multi   bool     `json:"multi"` // true表示多选
	Options []Option `json:"options"`
}

// Schedule 选举时间安排，发布后不可变
// 不变式: StartTime < EndTime < ResultsReleaseTime
type Schedule struct {
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	ResultsReleaseTime time.Time `json:"results_release_time"`
}

// ReportingPolicy 匿名与披露策略
type ReportingPolicy struct {
	Granularity  ReportingGranularity `json:"granularity"`
	GroupFields  []string             `json:"group_fields,omitempty"`
	MinGroupSize int                  `json:"min_group_size,omitempty"`
}

// ReleasePolicy 结果释放策略（门限确认）
type ReleasePolicy struct {
	RequiredConfirmations int      `json:"required_confirmations"`
	ConfirmerRoles        []string `json:"confirmer_roles,omitempty"`
}

// Election 选举配置，发布时创建一次，之后不可变
type Election struct {
	EventID         string            `json:"event_id"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	OrganizerID     string            `json:"organizer_id"`
	Questions       []Question        `json:"questions"`
	Schedule        Schedule          `json:"schedule"`
	Eligibility     EligibilityPolicy `json:"eligibility"`
	CuratedVoters   []string          `json:"curated_voters,omitempty"`
	Reporting       ReportingPolicy   `json:"reporting"`
	AllowedUpdates  int               `json:"allowed_updates"`             // 每位选民最多提交次数
	EstimatedVoters int               `json:"estimated_voters,omitempty"`  // 容量估算用，非硬性上限
	Release         ReleasePolicy     `json:"release"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ElectionStatus 由时间与释放状态推导的选举状态
type ElectionStatus string

const (
	StatusDraft           ElectionStatus = "draft"
	StatusPublished       ElectionStatus = "published" // 已发布但投票窗口未开启
	StatusVoting          ElectionStatus = "voting"    // 投票窗口开放中
	StatusEnded           ElectionStatus = "ended"     // 投票已结束，等待释放
	StatusResultsReleased ElectionStatus = "results_released"
)

// DeriveStatus 统一的状态推导函数
// 除released外所有状态都由时钟与Schedule比较得出，各组件必须使用
// 此函数而不是各自重新计算，避免判断口径漂移
func DeriveStatus(s Schedule, released bool, now time.Time) ElectionStatus {
	if released {
		return StatusResultsReleased
	}
	if now.Before(s.StartTime) {
		return StatusPublished
	}
	if now.Before(s.EndTime) {
		return StatusVoting
	}
	return StatusEnded
}

// InviteMaterial 根据资格策略派生的邀请材料，只返回给组织者，不上账本
type InviteMaterial struct {
	PublicLink string            `json:"public_link,omitempty"`
	InviteKey  string            `json:"invite_key,omitempty"`
	VoterKeys  map[string]string `json:"voter_keys,omitempty"` // voterID -> key
}

// Receipt 选票回执，交还给选民作为不泄露内容的纳入证明
type Receipt struct {
	Commitment string    `json:"commitment"`
	Sequence   int       `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
}

// InclusionResult 纳入查询结果
type InclusionResult struct {
	Included  bool       `json:"included"`
	Sequence  int        `json:"sequence,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// LiveStatistics 运行期实时统计（不经过k-匿名合并，非公开披露数据）
type LiveStatistics struct {
	EventID     string           `json:"event_id"`
	Status      ElectionStatus   `json:"status"`
	BallotCount int64            `json:"ballot_count"`
	VoterCount  int64            `json:"voter_count"`
	GroupCounts map[string]int64 `json:"group_counts,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// MarshalConfig 序列化选举配置用于写入Metadata记录
func (e *Election) MarshalConfig() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalConfig 从Metadata记录恢复选举配置
func UnmarshalConfig(raw string) (*Election, error) {
	var e Election
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// QuestionByID 查找指定问题，未找到返回nil
func (e *Election) QuestionByID(id string) *Question {
	for i := range e.Questions {
		if e.Questions[i].ID == id {
			return &e.Questions[i]
		}
	}
	return nil
}
