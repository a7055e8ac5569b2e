package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"votesecure-backend/cache"
	"votesecure-backend/models"
	"votesecure-backend/store"
)

var testClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *models.Election {
	return &models.Election{
		Title: "Board election",
		Questions: []models.Question{
			{
				ID:   "q1",
				Text: "Pick a chair",
				Options: []models.Option{
					{ID: "opt1", Text: "Alice"},
					{ID: "opt2", Text: "Bob"},
				},
			},
		},
		Schedule: models.Schedule{
			StartTime:          testClock.Add(-time.Hour),
			EndTime:            testClock.Add(time.Hour),
			ResultsReleaseTime: testClock.Add(2 * time.Hour),
		},
		Eligibility:     models.EligibilityOpen,
		Reporting:       models.ReportingPolicy{Granularity: models.ReportTotalsOnly},
		AllowedUpdates:  2,
		EstimatedVoters: 10,
		Release:         models.ReleasePolicy{RequiredConfirmations: 2},
	}
}

func newTestController(t *testing.T) (*Controller, store.Ledger) {
	t.Helper()
	ledger := store.NewMemoryLedger()
	ctrl := NewController(ledger, cache.NewLocalLockService(), nil, nil)
	ctrl.now = func() time.Time { return testClock }
	return ctrl, ledger
}

func publishTestElection(t *testing.T, ctrl *Controller, cfg *models.Election) *models.Election {
	t.Helper()
	res, err := ctrl.Publish(context.Background(), cfg, "org-1")
	assert.NoError(t, err)
	return res.Election
}

func submission(eventID string, option string) *BallotSubmission {
	return &BallotSubmission{
		EventID: eventID,
		Payload: "c2VhbGVk",
		Answers: models.Answers{"q1": {option}},
	}
}

func TestPublish_InvalidSchedule(t *testing.T) {
	ctrl, _ := newTestController(t)

	cases := []struct {
		name     string
		schedule models.Schedule
	}{
		{"start after end", models.Schedule{
			StartTime:          testClock.Add(2 * time.Hour),
			EndTime:            testClock.Add(time.Hour),
			ResultsReleaseTime: testClock.Add(3 * time.Hour),
		}},
		{"release before end", models.Schedule{
			StartTime:          testClock,
			EndTime:            testClock.Add(2 * time.Hour),
			ResultsReleaseTime: testClock.Add(time.Hour),
		}},
		{"equal start and end", models.Schedule{
			StartTime:          testClock,
			EndTime:            testClock,
			ResultsReleaseTime: testClock.Add(time.Hour),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Schedule = tc.schedule
			_, err := ctrl.Publish(context.Background(), cfg, "org-1")
			assert.ErrorIs(t, err, ErrInvalidSchedule)
		})
	}
}

func TestPublish_CreatesLedgerRecords(t *testing.T) {
	ctrl, ledger := newTestController(t)

	res, err := ctrl.Publish(context.Background(), testConfig(), "org-1")
	assert.NoError(t, err)
	assert.NotEmpty(t, res.Election.EventID)
	assert.Equal(t, "org-1", res.Election.OrganizerID)
	assert.NotEmpty(t, res.PrivateKeyRef)
	assert.NotEmpty(t, res.TxID)

	// Fund amount follows the capacity formula
	assert.Equal(t, EstimateCost(10, 2), res.FundAmount)

	ctx := context.Background()
	fund, err := ledger.Fund(ctx, res.Election.EventID)
	assert.NoError(t, err)
	assert.Equal(t, res.FundAmount, fund.RemainingAmount)

	meta, err := ledger.Metadata(ctx, res.Election.EventID)
	assert.NoError(t, err)
	assert.NotEmpty(t, meta.EncryptionKey)

	result, err := ledger.Result(ctx, res.Election.EventID)
	assert.NoError(t, err)
	assert.Equal(t, models.ResultLocked, result.Status)
}

func TestPublish_InviteMaterial(t *testing.T) {
	ctrl, _ := newTestController(t)

	t.Run("open election gets a public link", func(t *testing.T) {
		res, err := ctrl.Publish(context.Background(), testConfig(), "org-1")
		assert.NoError(t, err)
		assert.Contains(t, res.Invite.PublicLink, res.Election.EventID)
	})

	t.Run("invite-key election gets a shared key", func(t *testing.T) {
		cfg := testConfig()
		cfg.Eligibility = models.EligibilityInviteKey
		res, err := ctrl.Publish(context.Background(), cfg, "org-1")
		assert.NoError(t, err)
		assert.NotEmpty(t, res.Invite.InviteKey)
	})

	t.Run("curated list gets per-voter keys", func(t *testing.T) {
		cfg := testConfig()
		cfg.Eligibility = models.EligibilityCurated
		cfg.CuratedVoters = []string{"alice", "bob"}
		res, err := ctrl.Publish(context.Background(), cfg, "org-1")
		assert.NoError(t, err)
		assert.Len(t, res.Invite.VoterKeys, 2)
		assert.NotEmpty(t, res.Invite.VoterKeys["alice"])
	})
}

func TestSubmitBallot_ReceiptAndRevote(t *testing.T) {
	ctrl, ledger := newTestController(t)
	e := publishTestElection(t, ctrl, testConfig())
	ctx := context.Background()

	first, err := ctrl.SubmitBallot(ctx, submission(e.EventID, "opt1"), "voter-a")
	assert.NoError(t, err)
	assert.Equal(t, 1, first.Sequence)
	assert.NotEmpty(t, first.Commitment)

	second, err := ctrl.SubmitBallot(ctx, submission(e.EventID, "opt2"), "voter-a")
	assert.NoError(t, err)
	assert.Equal(t, 2, second.Sequence)
	assert.NotEqual(t, first.Commitment, second.Commitment)

	// Both records remain on the ledger as the audit trail
	records, err := ledger.VoterBallots(ctx, e.EventID, "voter-a")
	assert.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestSubmitBallot_UpdateLimitExceeded(t *testing.T) {
	ctrl, ledger := newTestController(t)
	e := publishTestElection(t, ctrl, testConfig())
	ctx := context.Background()

	_, err := ctrl.SubmitBallot(ctx, submission(e.EventID, "opt1"), "voter-a")
	assert.NoError(t, err)
	_, err = ctrl.SubmitBallot(ctx, submission(e.EventID, "opt2"), "voter-a")
	assert.NoError(t, err)

	// Third submission hits the revote cap and leaves the ledger untouched
	fundBefore, _ := ledger.Fund(ctx, e.EventID)
	_, err = ctrl.SubmitBallot(ctx, submission(e.EventID, "opt1"), "voter-a")
	assert.ErrorIs(t, err, ErrUpdateLimitExceeded)

	records, _ := ledger.VoterBallots(ctx, e.EventID, "voter-a")
	assert.Len(t, records, 2)
	fundAfter, _ := ledger.Fund(ctx, e.EventID)
	assert.Equal(t, fundBefore.RemainingAmount, fundAfter.RemainingAmount)
}

func TestSubmitBallot_WindowErrors(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()

	t.Run("before start", func(t *testing.T) {
		cfg := testConfig()
		cfg.Schedule.StartTime = testClock.Add(time.Minute)
		e := publishTestElection(t, ctrl, cfg)
		_, err := ctrl.SubmitBallot(ctx, submission(e.EventID, "opt1"), "voter-a")
		assert.ErrorIs(t, err, ErrVotingNotOpen)
	})

	t.Run("after end", func(t *testing.T) {
		cfg := testConfig()
		cfg.Schedule.StartTime = testClock.Add(-2 * time.Hour)
		cfg.Schedule.EndTime = testClock.Add(-time.Hour)
		e := publishTestElection(t, ctrl, cfg)
		_, err := ctrl.SubmitBallot(ctx, submission(e.EventID, "opt1"), "voter-a")
		assert.ErrorIs(t, err, ErrVotingClosed)
	})

	t.Run("exactly at end is closed", func(t *testing.T) {
		cfg := testConfig()
		cfg.Schedule.StartTime = testClock.Add(-time.Hour)
		cfg.Schedule.EndTime = testClock
		cfg.Schedule.ResultsReleaseTime = testClock.Add(time.Hour)
		e := publishTestElection(t, ctrl, cfg)
		_, err := ctrl.SubmitBallot(ctx, submission(e.EventID, "opt1"), "voter-a")
		assert.ErrorIs(t, err, ErrVotingClosed)
	})
}

func TestSubmitBallot_ElectionNotFound(t *testing.T) {
	ctrl, _ := newTestController(t)
	_, err := ctrl.SubmitBallot(context.Background(), submission("missing", "opt1"), "voter-a")
	assert.ErrorIs(t, err, ErrElectionNotFound)
}

func TestSubmitBallot_InsufficientFunds(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()

	// Zero estimated voters leaves only the fixed overhead in the fund,
	// which covers three ballots before exhaustion
	cfg := testConfig()
	cfg.EstimatedVoters = 0
	cfg.AllowedUpdates = 1
	e := publishTestElection(t, ctrl, cfg)

	for i := 0; i < 3; i++ {
		_, err := ctrl.SubmitBallot(ctx, submission(e.EventID, "opt1"), fmt.Sprintf("voter-%d", i))
		assert.NoError(t, err)
	}

	_, err := ctrl.SubmitBallot(ctx, submission(e.EventID, "opt1"), "voter-late")
	assert.ErrorIs(t, err, store.ErrInsufficientFunds)
}

func TestSubmitBallot_ConcurrentRevotes(t *testing.T) {
	ctrl, ledger := newTestController(t)
	cfg := testConfig()
	cfg.AllowedUpdates = 32
	e := publishTestElection(t, ctrl, cfg)
	ctx := context.Background()

	// Concurrent submissions from the same voter must never collide on sequence
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ctrl.SubmitBallot(ctx, submission(e.EventID, "opt1"), "voter-a")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	records, err := ledger.VoterBallots(ctx, e.EventID, "voter-a")
	assert.NoError(t, err)
	assert.Len(t, records, 16)

	seen := make(map[int]bool)
	for _, r := range records {
		assert.False(t, seen[r.Sequence], "sequence %d assigned twice", r.Sequence)
		seen[r.Sequence] = true
	}
	for seq := 1; seq <= 16; seq++ {
		assert.True(t, seen[seq], "sequence %d missing", seq)
	}
}

func TestVerifyInclusion(t *testing.T) {
	ctrl, _ := newTestController(t)
	e := publishTestElection(t, ctrl, testConfig())
	ctx := context.Background()

	receipt, err := ctrl.SubmitBallot(ctx, submission(e.EventID, "opt1"), "voter-a")
	assert.NoError(t, err)

	res, err := ctrl.VerifyInclusion(ctx, e.EventID, receipt.Commitment)
	assert.NoError(t, err)
	assert.True(t, res.Included)
	assert.Equal(t, receipt.Sequence, res.Sequence)

	res, err = ctrl.VerifyInclusion(ctx, e.EventID, "0xdeadbeef")
	assert.NoError(t, err)
	assert.False(t, res.Included)

	_, err = ctrl.VerifyInclusion(ctx, "missing", receipt.Commitment)
	assert.ErrorIs(t, err, ErrElectionNotFound)
}

func TestGetElection_DerivedStatus(t *testing.T) {
	ctrl, _ := newTestController(t)
	e := publishTestElection(t, ctrl, testConfig())
	ctx := context.Background()

	_, status, err := ctrl.GetElection(ctx, e.EventID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusVoting, status)

	// Advance past the end of the window
	ctrl.now = func() time.Time { return testClock.Add(90 * time.Minute) }
	_, status, err = ctrl.GetElection(ctx, e.EventID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusEnded, status)

	_, _, err = ctrl.GetElection(ctx, "missing")
	assert.ErrorIs(t, err, ErrElectionNotFound)
}

func TestLiveStatistics(t *testing.T) {
	ctrl, _ := newTestController(t)
	e := publishTestElection(t, ctrl, testConfig())
	ctx := context.Background()

	_, err := ctrl.SubmitBallot(ctx, submission(e.EventID, "opt1"), "voter-a")
	assert.NoError(t, err)
	_, err = ctrl.SubmitBallot(ctx, submission(e.EventID, "opt2"), "voter-a")
	assert.NoError(t, err)
	_, err = ctrl.SubmitBallot(ctx, submission(e.EventID, "opt1"), "voter-b")
	assert.NoError(t, err)

	stats, err := ctrl.LiveStatistics(ctx, e.EventID)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), stats.BallotCount)
	assert.Equal(t, int64(2), stats.VoterCount)
	assert.Equal(t, models.StatusVoting, stats.Status)
}

func TestWithdrawRemaining(t *testing.T) {
	ctrl, ledger := newTestController(t)
	e := publishTestElection(t, ctrl, testConfig())
	ctx := context.Background()

	_, err := ctrl.WithdrawRemaining(ctx, e.EventID, "someone-else")
	assert.ErrorIs(t, err, ErrNotOrganizer)

	_, err = ctrl.WithdrawRemaining(ctx, e.EventID, "org-1")
	assert.ErrorIs(t, err, ErrElectionActive)

	// After the end of the window the organizer reclaims the remainder
	ctrl.now = func() time.Time { return testClock.Add(90 * time.Minute) }
	reclaimed, err := ctrl.WithdrawRemaining(ctx, e.EventID, "org-1")
	assert.NoError(t, err)
	assert.Equal(t, EstimateCost(10, 2), reclaimed)

	fund, _ := ledger.Fund(ctx, e.EventID)
	assert.Equal(t, int64(0), fund.RemainingAmount)
}

func TestEstimateCost(t *testing.T) {
	// 0 voters still pays for the three fixed records plus the buffer
	assert.Equal(t, int64(3*MinRecordCapacity+CapacityBuffer), EstimateCost(0, 1))

	// Linear in voters and allowed updates
	base := EstimateCost(0, 1)
	assert.Equal(t, base+10*2*int64(BallotCost), EstimateCost(10, 2))

	// allowedUpdates below 1 is normalized to 1
	assert.Equal(t, EstimateCost(5, 1), EstimateCost(5, 0))
}

func TestPublish_RegistersEventID(t *testing.T) {
	ctrl, _ := newTestController(t)

	var registered []string
	ctrl.registerEvent = func(ctx context.Context, eventID string) {
		registered = append(registered, eventID)
	}

	res, err := ctrl.Publish(context.Background(), testConfig(), "org-1")
	assert.NoError(t, err)
	assert.Equal(t, []string{res.Election.EventID}, registered)

	// A rejected publish never reaches registration
	cfg := testConfig()
	cfg.Schedule.ResultsReleaseTime = cfg.Schedule.StartTime
	_, err = ctrl.Publish(context.Background(), cfg, "org-1")
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	assert.Len(t, registered, 1)
}

func TestLoadElection_ConfigCache(t *testing.T) {
	t.Setenv("REDIS_MOCK", "true")
	assert.NoError(t, cache.InitRedis())

	ctrl, _ := newTestController(t)
	ctx := context.Background()

	res, err := ctrl.Publish(ctx, testConfig(), "org-1")
	assert.NoError(t, err)
	eventID := res.Election.EventID

	// Publish primes the config cache
	cached, err := cache.GetCachedElectionConfig(eventID)
	assert.NoError(t, err)

	// Lookups are cache-first: a mutated cache entry wins over the ledger
	e, err := models.UnmarshalConfig(cached)
	assert.NoError(t, err)
	e.Title = "cached copy"
	mutated, err := e.MarshalConfig()
	assert.NoError(t, err)
	assert.NoError(t, cache.CacheElectionConfig(eventID, mutated))

	got, _, err := ctrl.GetElection(ctx, eventID)
	assert.NoError(t, err)
	assert.Equal(t, "cached copy", got.Title)

	// After invalidation the ledger copy is served and backfills the cache
	cache.InvalidateElectionConfig(eventID)
	got, _, err = ctrl.GetElection(ctx, eventID)
	assert.NoError(t, err)
	assert.Equal(t, "Board election", got.Title)

	refilled, err := cache.GetCachedElectionConfig(eventID)
	assert.NoError(t, err)
	assert.Contains(t, refilled, "Board election")
}

func TestLoadElection_NullCache(t *testing.T) {
	t.Setenv("REDIS_MOCK", "true")
	assert.NoError(t, cache.InitRedis())

	ctrl, _ := newTestController(t)
	ctx := context.Background()

	_, _, err := ctrl.GetElection(ctx, "ghost-event")
	assert.ErrorIs(t, err, ErrElectionNotFound)

	// The miss is null-cached so repeat lookups stop at the cache layer
	cached, err := cache.GetCachedElectionConfig("ghost-event")
	assert.NoError(t, err)
	assert.Equal(t, "NULL", cached)

	_, _, err = ctrl.GetElection(ctx, "ghost-event")
	assert.ErrorIs(t, err, ErrElectionNotFound)
}
