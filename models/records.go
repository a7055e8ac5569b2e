package models

import (
	"encoding/json"
	"time"
)

// RecordKind 账本记录类型标识，与链上cell类型标签保持一致
type RecordKind uint8

const (
	KindFund     RecordKind = 0x00
	KindMetadata RecordKind = 0x01
	KindBallot   RecordKind = 0x02
	KindResult   RecordKind = 0x03
)

// FundRecord 记录组织者为选举预留的容量，随选票准入单调递减
type FundRecord struct {
	ID              uint       `gorm:"primarykey" json:"-"`
	EventID         string     `gorm:"uniqueIndex;size:64" json:"event_id"`
	Kind            RecordKind `gorm:"default:0" json:"kind"`
	InitialAmount   int64      `json:"initial_amount"`   // 单位: shannon
	RemainingAmount int64      `json:"remaining_amount"` // 只减不增，退款除外
	CreatedAt       time.Time  `json:"created_at"`
}

// MetadataRecord 已发布的选举配置与加密公钥，创建后不可变
// 对应私钥引用只交还组织者，绝不写入账本
type MetadataRecord struct {
	ID            uint       `gorm:"primarykey" json:"-"`
	EventID       string     `gorm:"uniqueIndex;size:64" json:"event_id"`
	Kind          RecordKind `gorm:"default:1" json:"kind"`
	ConfigJSON    string     `gorm:"type:text" json:"-"`
	EncryptionKey string     `gorm:"size:128" json:"encryption_key"` // 密封选票载荷用公钥
	CreatedAt     time.Time  `json:"created_at"`
}

// BallotRecord 一条选票记录，按(EventID, VoterID, Sequence)唯一
// 记录一旦追加不可变更，重投产生新的记录并递增Sequence
type BallotRecord struct {
	ID         uint       `gorm:"primarykey" json:"-"`
	EventID    string     `gorm:"index;uniqueIndex:idx_event_voter_seq;size:64" json:"event_id"`
	Kind       RecordKind `gorm:"default:2" json:"kind"`
	VoterID    string     `gorm:"uniqueIndex:idx_event_voter_seq;size:128" json:"voter_id"`
	Sequence   int        `gorm:"uniqueIndex:idx_event_voter_seq" json:"sequence"` // 从1开始
	Payload    string     `gorm:"type:text" json:"-"`                              // 密封后的选票载荷
	Commitment string     `gorm:"index;size:66" json:"commitment"`
	AnswersRaw string     `gorm:"type:text" json:"-"` // JSON，计票时恢复
	GroupsRaw  string     `gorm:"type:text" json:"-"` // JSON，可选的分组属性
	Timestamp  time.Time  `json:"timestamp"`
}

// Answers 选票作答: 问题ID -> 选中的选项ID列表（单选时长度为1）
type Answers map[string][]string

// GroupAttributes 选票上的分组属性，例如部门、地区
type GroupAttributes map[string]string

// SetAnswers 序列化作答到记录
func (b *BallotRecord) SetAnswers(a Answers) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	b.AnswersRaw = string(data)
	return nil
}

// DecodeAnswers 从记录恢复作答
func (b *BallotRecord) DecodeAnswers() (Answers, error) {
	var a Answers
	if err := json.Unmarshal([]byte(b.AnswersRaw), &a); err != nil {
		return nil, err
	}
	return a, nil
}

// SetGroups 序列化分组属性到记录
func (b *BallotRecord) SetGroups(g GroupAttributes) error {
	if len(g) == 0 {
		b.GroupsRaw = ""
		return nil
	}
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	b.GroupsRaw = string(data)
	return nil
}

// DecodeGroups 从记录恢复分组属性，记录上没有时返回空map
func (b *BallotRecord) DecodeGroups() (GroupAttributes, error) {
	if b.GroupsRaw == "" {
		return GroupAttributes{}, nil
	}
	var g GroupAttributes
	if err := json.Unmarshal([]byte(b.GroupsRaw), &g); err != nil {
		return nil, err
	}
	return g, nil
}

// ResultStatus 结果记录状态
type ResultStatus string

const (
	ResultLocked   ResultStatus = "locked"
	ResultReleased ResultStatus = "released"
)

// ResultRecord 每个选举一条，由门限释放协调器和计票引擎维护
// 状态一旦翻转为released即为终态，结果写入后不再重算
type ResultRecord struct {
	ID            uint         `gorm:"primarykey" json:"-"`
	EventID       string       `gorm:"uniqueIndex;size:64" json:"event_id"`
	Kind          RecordKind   `gorm:"default:3" json:"kind"`
	Status        ResultStatus `gorm:"size:16" json:"status"`
	ConfirmersRaw string       `gorm:"type:text" json:"-"` // JSON数组，集合语义
	ResultsRaw    string       `gorm:"type:text" json:"-"` // 释放前为空
	ReleasedAt    *time.Time   `json:"released_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Confirmers 恢复确认者集合，保持首次确认顺序
func (r *ResultRecord) Confirmers() ([]string, error) {
	if r.ConfirmersRaw == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(r.ConfirmersRaw), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// AddConfirmer 幂等地加入确认者，返回是否实际新增
func (r *ResultRecord) AddConfirmer(confirmerID string) (bool, error) {
	ids, err := r.Confirmers()
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == confirmerID {
			return false, nil
		}
	}
	ids = append(ids, confirmerID)
	data, err := json.Marshal(ids)
	if err != nil {
		return false, err
	}
	r.ConfirmersRaw = string(data)
	return true, nil
}

// IncludedBallot 被计入的选票（最高sequence），以回执三元组形式公开
type IncludedBallot struct {
	Commitment string    `json:"commitment"`
	Sequence   int       `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
}

// OptionCounts 选项ID -> 票数
type OptionCounts map[string]int64

// QuestionTotals 问题ID -> 各选项票数
type QuestionTotals map[string]OptionCounts

// GroupResult 单个分组桶的计票结果
type GroupResult struct {
	Population int64          `json:"population"`
	Totals     QuestionTotals `json:"totals"`
}

// Results 计票引擎的输出，释放后写入ResultRecord
type Results struct {
	EventID         string                 `json:"event_id"`
	Totals          QuestionTotals         `json:"totals"`
	GroupResults    map[string]GroupResult `json:"group_results,omitempty"`
	IncludedBallots []IncludedBallot       `json:"included_ballots"`
	TotalVoters     int64                  `json:"total_voters"`
}

// SetResults 序列化计票结果到记录
func (r *ResultRecord) SetResults(res *Results) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	r.ResultsRaw = string(data)
	return nil
}

// DecodeResults 从记录恢复计票结果，未释放时返回nil
func (r *ResultRecord) DecodeResults() (*Results, error) {
	if r.ResultsRaw == "" {
		return nil, nil
	}
	var res Results
	if err := json.Unmarshal([]byte(r.ResultsRaw), &res); err != nil {
		return nil, err
	}
	return &res, nil
}
