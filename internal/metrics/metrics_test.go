package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.FramesDecoded.Inc()
	m.FramesDecoded.Inc()
	if got := testutil.ToFloat64(m.FramesDecoded); got != 2 {
		t.Errorf("FramesDecoded = %v, want 2", got)
	}

	m.FrameFailures.WithLabelValues("auth_fail").Inc()
	if got := testutil.ToFloat64(m.FrameFailures.WithLabelValues("auth_fail")); got != 1 {
		t.Errorf("FrameFailures{auth_fail} = %v, want 1", got)
	}

	m.BeaconFetches.WithLabelValues("date", "ok").Inc()
	if got := testutil.ToFloat64(m.BeaconFetches.WithLabelValues("date", "ok")); got != 1 {
		t.Errorf("BeaconFetches{date,ok} = %v, want 1", got)
	}
}

func TestSeparateRegistriesAreHermetic(t *testing.T) {
	a := NewMetricsWithRegistry(prometheus.NewRegistry())
	b := NewMetricsWithRegistry(prometheus.NewRegistry())

	a.BitsSent.Add(10)
	if got := testutil.ToFloat64(b.BitsSent); got != 0 {
		t.Errorf("second registry BitsSent = %v, want 0", got)
	}
}

func TestDefault_Singleton(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() returned different instances")
	}
}
