package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveDeductionTracksShortfall(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveDeduction(7, 7)
	m.ObserveDeduction(5, 2)

	require.Equal(t, 9.0, testutil.ToFloat64(m.creditsCharged))
	require.Equal(t, 3.0, testutil.ToFloat64(m.shortfall))
}

func TestObserveRunAndProviderCall(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRun("normal", OutcomeSuccess)
	m.ObserveRun("normal", OutcomeSuccess)
	m.ObserveProviderCall("openai", 150*time.Millisecond, nil)
	m.ObserveProviderCall("openai", time.Second, errors.New("boom"))

	require.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues("normal", OutcomeSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.providerErrors.WithLabelValues("openai")))
	require.Equal(t, 1, testutil.CollectAndCount(m.providerCalls))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *RunMetrics
	m.ObserveRun("skip", OutcomeSuccess)
	m.ObserveProviderCall("gemini", time.Second, nil)
	m.ObserveDeduction(1, 0)
}
