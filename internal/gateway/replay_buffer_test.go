package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayBuffer_After(t *testing.T) {
	rb := NewReplayBuffer(100)
	for i := int64(1); i <= 10; i++ {
		rb.Push(i, []byte("msg"))
	}

	got := rb.After(7)
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, int64(i)+8, e.Seq)
	}
	assert.Len(t, rb.After(0), 10)
	assert.Empty(t, rb.After(10))
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5)
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte("msg"))
	}

	assert.Equal(t, 5, rb.Len())
	got := rb.After(0)
	require.Len(t, got, 5)
	assert.Equal(t, int64(4), got[0].Seq, "oldest three evicted")
	assert.Equal(t, int64(8), got[4].Seq)
}

func TestReplayBuffer_Empty(t *testing.T) {
	rb := NewReplayBuffer(0)
	assert.Zero(t, rb.Len())
	assert.Empty(t, rb.After(0))
	assert.Equal(t, defaultReplaySize, rb.cap)
}
