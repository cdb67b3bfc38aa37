package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := New(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumByAttr(t *testing.T, met *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	require.NotNil(t, met)
	sum, ok := met.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %q is not an int64 sum", met.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		if key == "" {
			total += dp.Value
			continue
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestRecordHelpers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDrop(ctx, DropMagic)
	m.RecordDrop(ctx, DropMagic)
	m.RecordDrop(ctx, DropShort)
	m.RecordSpeechEvent(ctx, "silero", "onset")
	m.RecordConfig(ctx, true)
	m.RecordConfig(ctx, false)
	m.RecordFrame(ctx, time.Now().Add(-2*time.Millisecond))
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)

	dropped := findMetric(rm, "dualvad.frames.dropped")
	assert.Equal(t, int64(2), sumByAttr(t, dropped, "reason", DropMagic))
	assert.Equal(t, int64(1), sumByAttr(t, dropped, "reason", DropShort))

	assert.Equal(t, int64(1), sumByAttr(t, findMetric(rm, "dualvad.speech.events"), "kind", "onset"))
	assert.Equal(t, int64(1), sumByAttr(t, findMetric(rm, "dualvad.config.updates"), "status", "rejected"))
	assert.Equal(t, int64(1), sumByAttr(t, findMetric(rm, "dualvad.frames.processed"), "", ""))
	assert.Equal(t, int64(1), sumByAttr(t, findMetric(rm, "dualvad.sessions.active"), "", ""))

	hist, ok := findMetric(rm, "dualvad.frame.duration").Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.Greater(t, hist.DataPoints[0].Sum, 0.0)
}

func TestNewNop(t *testing.T) {
	m := NewNop()
	require.NotNil(t, m)
	m.RecordDrop(context.Background(), DropText)
	m.RecordFrame(context.Background(), time.Now())
}

func TestProviderHandler(t *testing.T) {
	p, err := InitProvider(context.Background(), "dualvad-test", "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := New(p)
	require.NoError(t, err)
	m.FramesProcessed.Add(context.Background(), 3)

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dualvad_frames_processed")
}
