package tally

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"votesecure-backend/models"
)

func testElection(granularity models.ReportingGranularity, fields []string, minSize int) *models.Election {
	return &models.Election{
		EventID:     "evt-1",
		Title:       "Board election",
		OrganizerID: "org-1",
		Questions: []models.Question{
			{
				ID:   "q1",
				Text: "Pick a chair",
				Options: []models.Option{
					{ID: "opt1", Text: "Alice"},
					{ID: "opt2", Text: "Bob"},
				},
			},
			{
				ID:    "q2",
				Text:  "Pick committees",
				Multi: true,
				Options: []models.Option{
					{ID: "optA", Text: "Audit"},
					{ID: "optB", Text: "Budget"},
					{ID: "optC", Text: "Bylaws"},
				},
			},
		},
		Schedule: models.Schedule{
			StartTime:          time.Now().Add(-2 * time.Hour),
			EndTime:            time.Now().Add(-1 * time.Hour),
			ResultsReleaseTime: time.Now().Add(time.Hour),
		},
		Reporting:      models.ReportingPolicy{Granularity: granularity, GroupFields: fields, MinGroupSize: minSize},
		AllowedUpdates: 2,
	}
}

func mustBallot(t *testing.T, voterID string, seq int, answers models.Answers, groups models.GroupAttributes) models.BallotRecord {
	t.Helper()
	b := models.BallotRecord{
		EventID:    "evt-1",
		VoterID:    voterID,
		Sequence:   seq,
		Commitment: fmt.Sprintf("0x%s-%d", voterID, seq),
		Timestamp:  time.Now(),
	}
	assert.NoError(t, b.SetAnswers(answers))
	assert.NoError(t, b.SetGroups(groups))
	return b
}

func TestComputeResults_LatestWins(t *testing.T) {
	e := testElection(models.ReportTotalsOnly, nil, 0)

	// Voter revotes: only the sequence-2 ballot counts, sequence-1 stays as audit trail
	ballots := []models.BallotRecord{
		mustBallot(t, "voter-a", 1, models.Answers{"q1": {"opt1"}}, nil),
		mustBallot(t, "voter-b", 1, models.Answers{"q1": {"opt1"}}, nil),
		mustBallot(t, "voter-a", 2, models.Answers{"q1": {"opt2"}}, nil),
	}

	res, err := ComputeResults(e, ballots)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), res.TotalVoters)
	assert.Equal(t, int64(1), res.Totals["q1"]["opt1"])
	assert.Equal(t, int64(1), res.Totals["q1"]["opt2"])
	assert.Len(t, res.IncludedBallots, 2)

	// Included receipts carry the highest sequence per voter
	seqs := map[string]int{}
	for _, ib := range res.IncludedBallots {
		seqs[ib.Commitment] = ib.Sequence
	}
	assert.Equal(t, 2, seqs["0xvoter-a-2"])
}

func TestComputeResults_ZeroInitAndMultiSelect(t *testing.T) {
	e := testElection(models.ReportTotalsOnly, nil, 0)

	ballots := []models.BallotRecord{
		mustBallot(t, "voter-a", 1, models.Answers{"q2": {"optA", "optB"}}, nil),
	}

	res, err := ComputeResults(e, ballots)
	assert.NoError(t, err)

	// Every selected option counted independently; untouched options present at zero
	assert.Equal(t, int64(1), res.Totals["q2"]["optA"])
	assert.Equal(t, int64(1), res.Totals["q2"]["optB"])
	assert.Equal(t, int64(0), res.Totals["q2"]["optC"])
	assert.Equal(t, int64(0), res.Totals["q1"]["opt1"])
	assert.Equal(t, int64(0), res.Totals["q1"]["opt2"])
}

func TestComputeResults_UnknownOptionsIgnored(t *testing.T) {
	e := testElection(models.ReportTotalsOnly, nil, 0)

	ballots := []models.BallotRecord{
		mustBallot(t, "voter-a", 1, models.Answers{"q1": {"bogus"}, "qX": {"opt1"}}, nil),
	}

	res, err := ComputeResults(e, ballots)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), res.Totals["q1"]["opt1"])
	assert.Equal(t, int64(0), res.Totals["q1"]["opt2"])
	_, ok := res.Totals["qX"]
	assert.False(t, ok)
}

func TestComputeResults_KAnonymityMerge(t *testing.T) {
	e := testElection(models.ReportByGroup, []string{"dept"}, 5)

	// Departments of size 8, 3 and 2: the two small ones fold into the merged bucket
	var ballots []models.BallotRecord
	for i := 0; i < 8; i++ {
		ballots = append(ballots, mustBallot(t, fmt.Sprintf("eng-%d", i), 1,
			models.Answers{"q1": {"opt1"}}, models.GroupAttributes{"dept": "engineering"}))
	}
	for i := 0; i < 3; i++ {
		ballots = append(ballots, mustBallot(t, fmt.Sprintf("hr-%d", i), 1,
			models.Answers{"q1": {"opt2"}}, models.GroupAttributes{"dept": "hr"}))
	}
	for i := 0; i < 2; i++ {
		ballots = append(ballots, mustBallot(t, fmt.Sprintf("legal-%d", i), 1,
			models.Answers{"q1": {"opt2"}}, models.GroupAttributes{"dept": "legal"}))
	}

	res, err := ComputeResults(e, ballots)
	assert.NoError(t, err)

	assert.Len(t, res.GroupResults, 2)
	assert.Equal(t, int64(8), res.GroupResults["engineering"].Population)

	merged, ok := res.GroupResults[models.MergedGroupKey]
	assert.True(t, ok)
	assert.Equal(t, int64(5), merged.Population)
	assert.Equal(t, int64(5), merged.Totals["q1"]["opt2"])

	// Global totals unaffected by the merge
	assert.Equal(t, int64(8), res.Totals["q1"]["opt1"])
	assert.Equal(t, int64(5), res.Totals["q1"]["opt2"])
}

func TestComputeResults_MergedBucketNotReMerged(t *testing.T) {
	e := testElection(models.ReportByGroup, []string{"dept"}, 5)

	// All groups below threshold: the merged bucket is published even though
	// its combined population is still below the minimum
	ballots := []models.BallotRecord{
		mustBallot(t, "a", 1, models.Answers{"q1": {"opt1"}}, models.GroupAttributes{"dept": "hr"}),
		mustBallot(t, "b", 1, models.Answers{"q1": {"opt2"}}, models.GroupAttributes{"dept": "legal"}),
	}

	res, err := ComputeResults(e, ballots)
	assert.NoError(t, err)
	assert.Len(t, res.GroupResults, 1)
	assert.Equal(t, int64(2), res.GroupResults[models.MergedGroupKey].Population)
}

func TestComputeResults_MissingGroupAttribute(t *testing.T) {
	e := testElection(models.ReportByGroup, []string{"dept"}, 0)

	ballots := []models.BallotRecord{
		mustBallot(t, "a", 1, models.Answers{"q1": {"opt1"}}, nil),
	}

	res, err := ComputeResults(e, ballots)
	assert.NoError(t, err)
	_, ok := res.GroupResults[models.UnknownGroupValue]
	assert.True(t, ok)
}

func TestComputeResults_CompositeGroupKey(t *testing.T) {
	e := testElection(models.ReportByGroup, []string{"dept", "region"}, 0)

	ballots := []models.BallotRecord{
		mustBallot(t, "a", 1, models.Answers{"q1": {"opt1"}},
			models.GroupAttributes{"dept": "engineering", "region": "east"}),
	}

	res, err := ComputeResults(e, ballots)
	assert.NoError(t, err)
	_, ok := res.GroupResults["engineering|east"]
	assert.True(t, ok)
}

func TestComputeResults_ByGroupWithoutFields(t *testing.T) {
	e := testElection(models.ReportByGroup, nil, 0)

	ballots := []models.BallotRecord{
		mustBallot(t, "a", 1, models.Answers{"q1": {"opt1"}}, nil),
		mustBallot(t, "b", 1, models.Answers{"q1": {"opt2"}}, nil),
	}

	res, err := ComputeResults(e, ballots)
	assert.NoError(t, err)
	assert.Len(t, res.GroupResults, 1)
	assert.Equal(t, int64(2), res.GroupResults[models.DefaultGroupKey].Population)
}

func TestComputeResults_Deterministic(t *testing.T) {
	e := testElection(models.ReportByGroup, []string{"dept"}, 2)

	var ballots []models.BallotRecord
	for i := 0; i < 6; i++ {
		ballots = append(ballots, mustBallot(t, fmt.Sprintf("v-%d", i), 1,
			models.Answers{"q1": {"opt1"}, "q2": {"optA", "optC"}},
			models.GroupAttributes{"dept": fmt.Sprintf("d%d", i%3)}))
	}

	first, err := ComputeResults(e, ballots)
	assert.NoError(t, err)
	second, err := ComputeResults(e, ballots)
	assert.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBuildLiveStats(t *testing.T) {
	e := testElection(models.ReportByGroup, []string{"dept"}, 5)

	ballots := []models.BallotRecord{
		mustBallot(t, "a", 1, models.Answers{"q1": {"opt1"}}, models.GroupAttributes{"dept": "hr"}),
		mustBallot(t, "a", 2, models.Answers{"q1": {"opt2"}}, models.GroupAttributes{"dept": "hr"}),
		mustBallot(t, "b", 1, models.Answers{"q1": {"opt1"}}, models.GroupAttributes{"dept": "legal"}),
	}

	stats, err := BuildLiveStats(e, ballots, false, time.Now())
	assert.NoError(t, err)
	assert.Equal(t, int64(3), stats.BallotCount)
	assert.Equal(t, int64(2), stats.VoterCount)
	assert.Equal(t, models.StatusEnded, stats.Status)

	// Group counts cover every admitted ballot, revotes included,
	// while voter_count stays deduplicated
	assert.Equal(t, int64(2), stats.GroupCounts["hr"])
	assert.Equal(t, int64(1), stats.GroupCounts["legal"])
}
