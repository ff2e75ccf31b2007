package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionEval(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	cond, err := e.Compile("frame.diff > 0.001")
	require.NoError(t, err)

	ok, err := cond.Eval(context.Background(), FrameVars{Seq: 1, Diff: 0.5})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cond.Eval(context.Background(), FrameVars{Seq: 2})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConditionSeesAllFrameFields(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	cond, err := e.Compile("frame.seq == 7 && frame.width == 64 && frame.height == 48 && frame.timestamp > 0")
	require.NoError(t, err)

	ok, err := cond.Eval(context.Background(), FrameVars{Seq: 7, Width: 64, Height: 48, Timestamp: 1})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompileRejectsNonBool(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	_, err = e.Compile("'frame'")
	assert.Error(t, err)
}

func TestDynResultMustBeBool(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	cond, err := e.Compile("frame.seq")
	require.NoError(t, err)

	_, err = cond.Eval(context.Background(), FrameVars{Seq: 1})
	assert.Error(t, err)
}

func TestCompileErrorIsReported(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	_, err = e.Compile("frame.diff >")
	assert.Error(t, err)
	assert.Equal(t, 0, e.Len())
}

func TestConditionsAreCached(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	first, err := e.Compile("frame.seq % 2 == 0")
	require.NoError(t, err)
	second, err := e.Compile("frame.seq % 2 == 0")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, e.Len())
	assert.Equal(t, "frame.seq % 2 == 0", first.String())

	e.ClearCache()
	assert.Equal(t, 0, e.Len())
}
