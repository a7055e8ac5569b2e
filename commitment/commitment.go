// Package commitment 实现选票承诺：对选票内容做单向哈希，
// 作为不泄露内容的回执和纳入证明。
package commitment

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/crypto/blake2b"

	"votesecure-backend/models"
)

// 哈希域分隔前缀，对应CKB默认哈希的personalization字符串
// （x/crypto的blake2b不暴露personalization参数，改为前缀输入）
const hashPersonalization = "ckb-default-hash"

// Ballot 承诺的输入，四个字段缺一不可
type Ballot struct {
	Timestamp time.Time
	EventID   string
	VoterID   string
	Answers   models.Answers
}

// canonicalAnswer 规范化后的单个作答项
type canonicalAnswer struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// canonicalBallot 规范序列化形式，字段顺序固定
type canonicalBallot struct {
	Timestamp int64             `json:"timestamp"`
	EventID   string            `json:"event_id"`
	VoterID   string            `json:"voter_id"`
	Answers   []canonicalAnswer `json:"answers"`
}

// Commit 计算选票承诺，返回固定宽度的0x前缀十六进制串
// 相同输入必然得到相同输出；四个字段任一变化都会改变输出
func Commit(b Ballot) (string, error) {
	canonical, err := canonicalize(b)
	if err != nil {
		return "", fmt.Errorf("选票序列化失败: %w", err)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("初始化哈希失败: %w", err)
	}
	h.Write([]byte(hashPersonalization))
	h.Write(canonical)

	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalize 按固定字段顺序序列化选票
// 作答按问题ID排序，消除map遍历顺序的不确定性
func canonicalize(b Ballot) ([]byte, error) {
	if b.EventID == "" || b.VoterID == "" {
		return nil, fmt.Errorf("选票缺少必要字段")
	}

	questions := make([]string, 0, len(b.Answers))
	for q := range b.Answers {
		questions = append(questions, q)
	}
	sort.Strings(questions)

	answers := make([]canonicalAnswer, 0, len(questions))
	for _, q := range questions {
		answers = append(answers, canonicalAnswer{Question: q, Options: b.Answers[q]})
	}

	return json.Marshal(canonicalBallot{
		Timestamp: b.Timestamp.UnixNano(),
		EventID:   b.EventID,
		VoterID:   b.VoterID,
		Answers:   answers,
	})
}
