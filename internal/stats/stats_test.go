package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"time-value-analyser/occupancy-archive/internal/model"
)

func series(start time.Time, step time.Duration, values ...*int) model.Series {
	s := make(model.Series, len(values))
	for i, v := range values {
		s[i] = model.Entry{Timestamp: start.Add(time.Duration(i) * step), NumFree: v}
	}
	return s
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestComputeChanges(t *testing.T) {
	i := model.Int
	st := Compute(series(t0, time.Minute, i(5), i(5), i(3), nil, i(3), i(7)))

	assert.Equal(t, 6, st.NumTimestamps)
	assert.Equal(t, 3, st.NumChanges)
	assert.Equal(t, 6, st.AbsChanges)
	assert.Equal(t, t0, st.FirstTimestamp)
	assert.Equal(t, t0.Add(5*time.Minute), st.LastTimestamp)

	require.NotNil(t, st.Min)
	assert.Equal(t, 3.0, *st.Min)
	assert.Equal(t, 7.0, *st.Max)
	assert.Equal(t, 5.0, *st.Median)
	assert.InDelta(t, 4.6, *st.Mean, 1e-9)
	assert.InDelta(t, 2.24, *st.Var, 1e-9)
	assert.InDelta(t, 1.4966629547, *st.Std, 1e-9)
	// weights 1,1,1,(absent),1,0 minutes
	assert.InDelta(t, 4.0, *st.Average, 1e-9)
}

func TestComputeAbsentOnly(t *testing.T) {
	st := Compute(series(t0, time.Minute, nil, nil))
	assert.Equal(t, 2, st.NumTimestamps)
	assert.Zero(t, st.NumChanges)
	assert.Nil(t, st.Mean)
	assert.Nil(t, st.Average)
	assert.Nil(t, st.Std)
}

func TestComputeEmpty(t *testing.T) {
	st := Compute(nil)
	assert.Zero(t, st.NumTimestamps)
	assert.True(t, st.FirstTimestamp.IsZero())
}

func TestComputeSingleValueFallsBackToMean(t *testing.T) {
	st := Compute(series(t0, time.Minute, model.Int(9)))
	require.NotNil(t, st.Average)
	assert.Equal(t, 9.0, *st.Average)
	assert.Equal(t, 1, st.NumChanges)
	assert.Zero(t, st.AbsChanges)
}

func TestSet(t *testing.T) {
	out := Set(model.SeriesSet{
		"a-1": series(t0, time.Minute, model.Int(1), model.Int(2)),
		"a-2": series(t0, time.Minute, model.Int(4)),
	})
	assert.Len(t, out, 2)
	assert.Equal(t, 2, out["a-1"].NumChanges)
	assert.Equal(t, 1, out["a-2"].NumTimestamps)
}
