package tally

import (
	"sort"
	"strings"
	"time"

	"votesecure-backend/models"
)

// latestPerVoter 按选民取最高sequence的选票（最新一票生效）
// 早先sequence的选票保留在账本作审计轨迹，但不参与计票
func latestPerVoter(ballots []models.BallotRecord) []models.BallotRecord {
	latest := make(map[string]models.BallotRecord)
	order := make([]string, 0)
	for _, b := range ballots {
		prev, ok := latest[b.VoterID]
		if !ok {
			order = append(order, b.VoterID)
			latest[b.VoterID] = b
			continue
		}
		if b.Sequence > prev.Sequence {
			latest[b.VoterID] = b
		}
	}
	out := make([]models.BallotRecord, 0, len(order))
	for _, voterID := range order {
		out = append(out, latest[voterID])
	}
	return out
}

// zeroTotals 按选举配置预置所有问题与选项的零计数
// 未获票的选项也必须出现在结果中，缺失与零票不可混淆
func zeroTotals(e *models.Election) models.QuestionTotals {
	totals := make(models.QuestionTotals, len(e.Questions))
	for _, q := range e.Questions {
		counts := make(models.OptionCounts, len(q.Options))
		for _, opt := range q.Options {
			counts[opt.ID] = 0
		}
		totals[q.ID] = counts
	}
	return totals
}

// applyBallot 把一张选票累加到计数表
// 多选问题对每个选中的选项独立计一票；配置之外的问题或选项忽略
func applyBallot(totals models.QuestionTotals, e *models.Election, answers models.Answers) {
	for questionID, optionIDs := range answers {
		counts, ok := totals[questionID]
		if !ok {
			continue
		}
		q := e.QuestionByID(questionID)
		if q == nil {
			continue
		}
		picked := optionIDs
		if !q.Multi && len(picked) > 1 {
			picked = picked[:1]
		}
		for _, optionID := range picked {
			if _, known := counts[optionID]; known {
				counts[optionID]++
			}
		}
	}
}

// groupKeyFor 按配置的分组字段拼出选票所属的桶
// 缺失字段用占位值补齐，保证每张选票都能归入某个桶
func groupKeyFor(fields []string, groups models.GroupAttributes) string {
	if len(fields) == 0 {
		return models.DefaultGroupKey
	}
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		value, ok := groups[field]
		if !ok || value == "" {
			value = models.UnknownGroupValue
		}
		parts = append(parts, value)
	}
	return strings.Join(parts, "|")
}

// mergeSmallGroups k-匿名合并：人数低于阈值的桶折叠进合并桶
// 合并桶本身不参与二次合并，即使合并后仍低于阈值也原样公布
func mergeSmallGroups(groups map[string]models.GroupResult, minSize int) map[string]models.GroupResult {
	if minSize <= 1 {
		return groups
	}
	merged := models.GroupResult{Totals: make(models.QuestionTotals)}
	out := make(map[string]models.GroupResult, len(groups))
	anyMerged := false
	for key, gr := range groups {
		if gr.Population >= int64(minSize) {
			out[key] = gr
			continue
		}
		anyMerged = true
		merged.Population += gr.Population
		for questionID, counts := range gr.Totals {
			dst, ok := merged.Totals[questionID]
			if !ok {
				dst = make(models.OptionCounts, len(counts))
				merged.Totals[questionID] = dst
			}
			for optionID, n := range counts {
				dst[optionID] += n
			}
		}
	}
	if anyMerged {
		out[models.MergedGroupKey] = merged
	}
	return out
}

// ComputeResults 确定性计票：最新一票生效、零计数预置、可选的分组披露
// 同一账本内容下任意次调用产生完全一致的结果
func ComputeResults(e *models.Election, ballots []models.BallotRecord) (*models.Results, error) {
	counted := latestPerVoter(ballots)

	results := &models.Results{
		EventID:         e.EventID,
		Totals:          zeroTotals(e),
		IncludedBallots: make([]models.IncludedBallot, 0, len(counted)),
		TotalVoters:     int64(len(counted)),
	}

	byGroup := e.Reporting.Granularity == models.ReportByGroup
	groupResults := make(map[string]models.GroupResult)

	for _, b := range counted {
		answers, err := b.DecodeAnswers()
		if err != nil {
			return nil, err
		}
		applyBallot(results.Totals, e, answers)

		if byGroup {
			attrs, err := b.DecodeGroups()
			if err != nil {
				return nil, err
			}
			key := groupKeyFor(e.Reporting.GroupFields, attrs)
			gr, ok := groupResults[key]
			if !ok {
				gr = models.GroupResult{Totals: zeroTotals(e)}
			}
			gr.Population++
			applyBallot(gr.Totals, e, answers)
			groupResults[key] = gr
		}

		results.IncludedBallots = append(results.IncludedBallots, models.IncludedBallot{
			Commitment: b.Commitment,
			Sequence:   b.Sequence,
			Timestamp:  b.Timestamp,
		})
	}

	// 回执列表按承诺值排序，切断与提交顺序的关联
	sort.Slice(results.IncludedBallots, func(i, j int) bool {
		return results.IncludedBallots[i].Commitment < results.IncludedBallots[j].Commitment
	})

	if byGroup {
		results.GroupResults = mergeSmallGroups(groupResults, e.Reporting.MinGroupSize)
	}
	return results, nil
}

// BuildLiveStats 运行期统计，不做k-匿名处理，供组织者侧实时面板使用
func BuildLiveStats(e *models.Election, ballots []models.BallotRecord, released bool, now time.Time) (*models.LiveStatistics, error) {
	counted := latestPerVoter(ballots)

	stats := &models.LiveStatistics{
		EventID:     e.EventID,
		Status:      models.DeriveStatus(e.Schedule, released, now),
		BallotCount: int64(len(ballots)),
		VoterCount:  int64(len(counted)),
		UpdatedAt:   now,
	}

	// 分组维度按选票计数（含同一选民的重投），独立选民数另行给出
	if len(e.Reporting.GroupFields) > 0 {
		stats.GroupCounts = make(map[string]int64)
		for _, b := range ballots {
			attrs, err := b.DecodeGroups()
			if err != nil {
				return nil, err
			}
			stats.GroupCounts[groupKeyFor(e.Reporting.GroupFields, attrs)]++
		}
	}
	return stats, nil
}
