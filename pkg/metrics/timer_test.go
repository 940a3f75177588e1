package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver []float64

func (r *recordingObserver) Observe(v float64) { *r = append(*r, v) }

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	require.NotNil(t, timer)

	time.Sleep(20 * time.Millisecond)
	d := timer.Duration()

	assert.GreaterOrEqual(t, d, 20*time.Millisecond)
	assert.Less(t, d, time.Second)
	assert.GreaterOrEqual(t, timer.Duration(), d, "duration keeps growing")
}

func TestTimerObserveDuration(t *testing.T) {
	var rec recordingObserver
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)

	timer.ObserveDuration(&rec)
	timer.ObserveDuration(&rec)

	require.Len(t, rec, 2)
	assert.GreaterOrEqual(t, rec[0], 0.01)
	assert.GreaterOrEqual(t, rec[1], rec[0])

	// a check histogram accepts the observation without panicking
	assert.NotPanics(t, func() { NewTimer().ObserveDuration(CheckDuration) })
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_verdict_duration_seconds",
		Help: "test",
	}, []string{"verdict"})

	timer := NewTimer()
	timer.ObserveDurationVec(vec, "promote")
	timer.ObserveDurationVec(vec, "demote")
	timer.ObserveDurationVec(vec, "promote")

	assert.Equal(t, 2, testutil.CollectAndCount(vec))

	before := testutil.CollectAndCount(DecisionDuration)
	NewTimer().ObserveDurationVec(DecisionDuration, "timer-test")
	assert.Equal(t, before+1, testutil.CollectAndCount(DecisionDuration))
}
