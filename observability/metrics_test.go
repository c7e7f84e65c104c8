package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"nftlend/core/types"
)

type testEvent struct{ evt *types.Event }

func (e testEvent) EventType() string { return e.evt.Type }

func TestLendingMetricsObserve(t *testing.T) {
	m := newLendingMetrics()
	m.Observe("borrow", "", 10*time.Millisecond)
	m.Observe("borrow", "invalid_nonce", time.Millisecond)
	m.Observe("", "", time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("borrow", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("borrow", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("borrow", "invalid_nonce")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("unknown", "success")))
}

func TestLendingMetricsGauges(t *testing.T) {
	m := newLendingMetrics()
	m.RecordFees("Native", big.NewInt(4_000_000_000_000))
	m.SetPause(true)
	m.RecordThrottle("")

	require.Equal(t, 4e12, testutil.ToFloat64(m.fees.WithLabelValues("native")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.paused))
	require.Equal(t, 1.0, testutil.ToFloat64(m.throttles.WithLabelValues("unspecified")))

	var nilMetrics *LendingMetrics
	nilMetrics.Observe("borrow", "", time.Second)
	nilMetrics.SetPause(false)
}

func TestEventMetricsCountsByType(t *testing.T) {
	m := newEventMetrics()
	m.Emit(testEvent{evt: &types.Event{Type: "lending.loan.started"}})
	m.Emit(testEvent{evt: &types.Event{Type: "lending.loan.started"}})
	m.Emit(nil)
	require.Equal(t, 2.0, testutil.ToFloat64(m.emitted.WithLabelValues("lending.loan.started")))
}

func TestBigToFloat(t *testing.T) {
	require.Zero(t, bigToFloat(nil))
	require.Equal(t, 42.0, bigToFloat(big.NewInt(42)))
}
