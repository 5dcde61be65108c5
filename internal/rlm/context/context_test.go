package context

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIteration_FailsFastAtMax(t *testing.T) {
	c := New("t1", 2)

	require.NoError(t, c.NextIteration())
	require.NoError(t, c.NextIteration())
	assert.True(t, c.MaxIterationsReached())

	err := c.NextIteration()
	assert.Error(t, err)
}

func TestRecordError_BoundedLog(t *testing.T) {
	c := New("t1", 10)

	const n = 10000
	var last string
	for i := 0; i < n; i++ {
		s := fmt.Sprintf("error-%d", i)
		c.RecordError(s)
		last = s
	}

	errs := c.Metadata.Errors()
	assert.Len(t, errs, MaxErrors)
	assert.EqualValues(t, n, c.Metadata.ErrorCount)
	assert.Equal(t, "error-9950", errs[0]) // the 9951st recorded string (0-indexed: 9950)
	assert.Equal(t, last, errs[len(errs)-1])
}

func TestWithinContextLimits(t *testing.T) {
	c := New("t1", 10)
	c.AppendAnswer(string(make([]byte, 400)))

	assert.True(t, c.WithinContextLimits(100))
	assert.False(t, c.WithinContextLimits(99))
}

func TestAppendAnswer_UpdatesMessageCount(t *testing.T) {
	c := New("t1", 10)
	c.AppendAnswer("a")
	c.AppendAnswer("b")
	assert.Equal(t, "ab", c.Answer)
	assert.Equal(t, 2, c.MessageCount)
}
