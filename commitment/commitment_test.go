package commitment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"votesecure-backend/models"
)

func sampleBallot() Ballot {
	return Ballot{
		Timestamp: time.Unix(1700000000, 123456789),
		EventID:   "evt-001",
		VoterID:   "voter-a",
		Answers:   models.Answers{"q1": {"opt1"}, "q2": {"opt2", "opt3"}},
	}
}

func TestCommit_Deterministic(t *testing.T) {
	b := sampleBallot()

	c1, err := Commit(b)
	assert.NoError(t, err)
	c2, err := Commit(b)
	assert.NoError(t, err)

	assert.Equal(t, c1, c2)
	// 0x + 32字节十六进制
	assert.Len(t, c1, 66)
	assert.Equal(t, "0x", c1[:2])
}

func TestCommit_AnswerOrderIndependent(t *testing.T) {
	// map字面量的构造顺序不应影响承诺值
	b1 := sampleBallot()
	b2 := sampleBallot()
	b2.Answers = models.Answers{"q2": {"opt2", "opt3"}, "q1": {"opt1"}}

	c1, err := Commit(b1)
	assert.NoError(t, err)
	c2, err := Commit(b2)
	assert.NoError(t, err)
	assert.Equal(t, c1, c2)
}

func TestCommit_SensitiveToEveryField(t *testing.T) {
	base := sampleBallot()
	baseCommit, err := Commit(base)
	assert.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Ballot)
	}{
		{"timestamp", func(b *Ballot) { b.Timestamp = b.Timestamp.Add(time.Nanosecond) }},
		{"event id", func(b *Ballot) { b.EventID = "evt-002" }},
		{"voter id", func(b *Ballot) { b.VoterID = "voter-b" }},
		{"answers", func(b *Ballot) { b.Answers = models.Answers{"q1": {"opt2"}} }},
		{"option order", func(b *Ballot) { b.Answers = models.Answers{"q1": {"opt1"}, "q2": {"opt3", "opt2"}} }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mutated := sampleBallot()
			tc.mutate(&mutated)
			c, err := Commit(mutated)
			assert.NoError(t, err)
			assert.NotEqual(t, baseCommit, c)
		})
	}
}

func TestCommit_MissingFields(t *testing.T) {
	b := sampleBallot()
	b.EventID = ""
	_, err := Commit(b)
	assert.Error(t, err)

	b = sampleBallot()
	b.VoterID = ""
	_, err = Commit(b)
	assert.Error(t, err)
}
