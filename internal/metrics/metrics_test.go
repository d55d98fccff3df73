package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var errTestDelivery = errors.New("delivery failed")

// TestMetrics_Record verifies each recorder updates its collector.
func TestMetrics_Record(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())

	m.ChunkProcessed([]string{"band 0", "band 1"}, []float64{0.25, 0.5})
	m.ChunkProcessed([]string{"band 0", "band 1"}, []float64{0.3, 0.05})
	require.InDelta(t, 2, testutil.ToFloat64(m.chunksTotal), 0)
	require.InDelta(t, 0.3, testutil.ToFloat64(m.bandMagnitude.WithLabelValues("0", "band 0")), 1e-9)
	require.InDelta(t, 0.05, testutil.ToFloat64(m.bandMagnitude.WithLabelValues("1", "band 1")), 1e-9)

	m.CaptureFault(FaultTransient)
	m.CaptureFault(FaultTransient)
	require.InDelta(t, 2, testutil.ToFloat64(m.captureFaultsTotal.WithLabelValues(FaultTransient)), 0)

	m.Detection(1, "band 1")
	require.InDelta(t, 1, testutil.ToFloat64(m.detectionsTotal.WithLabelValues("1", "band 1")), 0)

	m.SetSuppressed(true)
	require.InDelta(t, 1, testutil.ToFloat64(m.suppressed), 0)
	m.SetSuppressed(false)
	require.InDelta(t, 0, testutil.ToFloat64(m.suppressed), 0)

	m.DispatchStarted()
	m.Delivery("pushsafer", time.Millisecond, nil)
	m.Delivery("mqtt", time.Millisecond, errTestDelivery)
	require.InDelta(t, 1, testutil.ToFloat64(m.inflight), 0)
	m.DispatchFinished()
	require.InDelta(t, 0, testutil.ToFloat64(m.inflight), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.notificationsTotal.WithLabelValues("pushsafer", ResultSent)), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.notificationsTotal.WithLabelValues("mqtt", ResultFailed)), 0)
}

// TestMetrics_Serve scrapes the HTTP endpoint and checks graceful stop.
func TestMetrics_Serve(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	m := New(nil)
	m.Detection(0, "DOWNSTAIRS DOORBELL")

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)

	go func() {
		served <- m.Serve(ctx, addr)
	}()

	var body []byte

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics") //nolint:noctx // Test helper.
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)

		return err == nil && resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.Contains(t, string(body), `doorbell_detections_total{band="0",label="DOWNSTAIRS DOORBELL"} 1`)
	require.Contains(t, string(body), "go_goroutines")

	cancel()
	require.NoError(t, <-served)
}
