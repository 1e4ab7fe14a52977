package message

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckExactlyOnce(t *testing.T) {
	m := New(map[string]any{"x": 1}, "t", nil)

	var acks, nacks int32
	m.AddAcknowledgement(func() { atomic.AddInt32(&acks, 1) })
	m.AddAcknowledgement(func() { atomic.AddInt32(&acks, 1) })
	m.AddNegativeAcknowledgement(func(NackOutcome) { atomic.AddInt32(&nacks, 1) })

	m.CallAcknowledgements()
	// A second settlement attempt, from either side, must be a no-op.
	m.CallAcknowledgements()
	m.CallNegativeAcknowledgements(NackRejected)

	assert.EqualValues(t, 2, acks)
	assert.EqualValues(t, 0, nacks)
	assert.True(t, m.Settled())
}

func TestCallNegativeAcknowledgementsOnlyFiresOnce(t *testing.T) {
	m := New(nil, "", nil)
	var calls int32
	var gotOutcome NackOutcome
	m.AddNegativeAcknowledgement(func(o NackOutcome) {
		atomic.AddInt32(&calls, 1)
		gotOutcome = o
	})

	m.CallNegativeAcknowledgements(NackFailed)
	m.CallNegativeAcknowledgements(NackRejected)

	assert.EqualValues(t, 1, calls)
	assert.Equal(t, NackFailed, gotOutcome)
}

func TestCombineWithMessageTransfersAckResponsibility(t *testing.T) {
	original := New(nil, "", nil)
	synthesized := New(nil, "", nil)

	var fired bool
	original.AddAcknowledgement(func() { fired = true })

	original.CombineWithMessage(synthesized)
	require.True(t, original.Settled())
	require.False(t, fired)

	synthesized.CallAcknowledgements()
	assert.True(t, fired)
}

func TestTopicLevels(t *testing.T) {
	m := New(nil, "a/b/c", nil)
	assert.Equal(t, []string{"a", "b", "c"}, m.TopicLevels())

	m2 := New(nil, "", nil)
	assert.Nil(t, m2.TopicLevels())
}
