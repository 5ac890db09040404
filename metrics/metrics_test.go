package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementCounterMonotone(t *testing.T) {
	r := NewRegistry(0)
	r.IncrementCounter("jobs.processed", 1)
	r.IncrementCounter("jobs.processed", 1)
	total := r.IncrementCounter("jobs.processed", 3)
	assert.Equal(t, float64(5), total)
}

func TestSetGaugeReplaces(t *testing.T) {
	r := NewRegistry(0)
	r.SetGauge("pool.idle", 4)
	r.SetGauge("pool.idle", 2)
	s := r.Summarize("pool.idle", 0)
	require.Equal(t, 1, s.Count)
	assert.Equal(t, float64(2), s.Max)
}

func TestSummarizeStatistics(t *testing.T) {
	r := NewRegistry(0)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		r.RecordTimer("fetch.duration", v)
	}
	s := r.Summarize("fetch.duration", 0)
	require.Equal(t, 5, s.Count)
	assert.Equal(t, float64(1), s.Min)
	assert.Equal(t, float64(5), s.Max)
	assert.Equal(t, float64(3), s.Mean)
	assert.Equal(t, float64(3), s.Median)
}

func TestRingBufferWraps(t *testing.T) {
	r := NewRegistry(3)
	for i := 0; i < 10; i++ {
		r.Record("x", float64(i), nil)
	}
	s := r.Summarize("x", 0)
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, float64(9), s.Max)
	assert.Equal(t, float64(7), s.Min)
}

type recordingSink struct {
	names []string
}

func (s *recordingSink) Observe(name string, value float64, labels map[string]string) {
	s.names = append(s.names, name)
}

func TestAlertSinkNotifiedOnWrite(t *testing.T) {
	r := NewRegistry(0)
	sink := &recordingSink{}
	r.SetAlertSink(sink)
	r.SetGauge("queue.depth", 10)
	r.IncrementCounter("jobs.failed", 1)
	require.Len(t, sink.names, 2)
	assert.Contains(t, sink.names, "queue.depth")
	assert.Contains(t, sink.names, "jobs.failed")
}

func TestFanoutBroadcasts(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	f := Fanout{a, b}
	f.Observe("m", 1, nil)
	assert.Len(t, a.names, 1)
	assert.Len(t, b.names, 1)
}

func TestSummarizeWindowExcludesOld(t *testing.T) {
	r := NewRegistry(0)
	m := r.getOrCreate("w", KindTimer)
	m.append(Observation{Value: 100, Timestamp: time.Now().Add(-time.Hour)})
	m.append(Observation{Value: 1, Timestamp: time.Now()})
	s := r.Summarize("w", time.Minute)
	require.Equal(t, 1, s.Count)
	assert.Equal(t, float64(1), s.Max)
}
