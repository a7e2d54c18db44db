package metrics

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicCollector(t *testing.T) {
	var c BasicCollector

	c.RecordInsert(100, time.Millisecond)
	c.RecordInsert(50, time.Millisecond)
	c.RecordBacklog(3, 1200)
	c.RecordDropped(7)
	c.RecordQuery(time.Millisecond, 10, 500, nil)
	c.RecordQuery(time.Millisecond, 2, 0, errors.New("boom"))
	c.RecordFlush(time.Millisecond, nil)

	assert.Equal(t, int64(2), c.InsertCount.Load())
	assert.Equal(t, int64(150), c.InsertPoints.Load())
	assert.Equal(t, int64(3), c.BacklogTasks.Load())
	assert.Equal(t, int64(1200), c.BacklogPoints.Load())
	assert.Equal(t, int64(7), c.DroppedPoints.Load())
	assert.Equal(t, int64(2), c.QueryCount.Load())
	assert.Equal(t, int64(1), c.QueryErrors.Load())
	assert.Equal(t, int64(500), c.QueryPoints.Load())
	assert.Equal(t, int64(1), c.FlushCount.Load())
}

func TestCBORCollectorRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := NewCBORCollector(&buf)

	c.RecordBacklog(5, 2500)
	c.RecordBacklog(0, 0)
	require.NoError(t, c.Close())

	samples, err := ReadSamples(&buf)
	require.NoError(t, err)
	require.Len(t, samples, 4)

	assert.Equal(t, uint8(MetricNrTasks), samples[0].M)
	assert.Equal(t, int64(5), samples[0].V)
	assert.Equal(t, uint8(MetricNrPoints), samples[1].M)
	assert.Equal(t, int64(2500), samples[1].V)
	assert.NotZero(t, samples[0].T)
}

func TestCBORCollectorRecordAfterClose(t *testing.T) {
	var buf bytes.Buffer
	c := NewCBORCollector(&buf)

	c.RecordBacklog(1, 100)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "close is idempotent")

	// The generation ticker may still sample after the collector was
	// closed; those samples are discarded, not panicked on.
	c.RecordBacklog(2, 200)

	samples, err := ReadSamples(&buf)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, int64(1), samples[0].V)
	assert.Equal(t, int64(100), samples[1].V)
}

func TestPrometheusCollectorRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RecordInsert(10, time.Millisecond)
	c.RecordBacklog(1, 10)
	c.RecordDropped(2)
	c.RecordQuery(time.Millisecond, 1, 1, nil)
	c.RecordFlush(time.Millisecond, errors.New("disk full"))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["pointlake_points_inserted_total"])
	assert.True(t, names["pointlake_backlog_tasks"])
	assert.True(t, names["pointlake_query_duration_seconds"])
	assert.True(t, names["pointlake_flush_errors_total"])
}
