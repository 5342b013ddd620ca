package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOp("cancel", ResultOK, time.Millisecond)
		m.RecordHandle("marshal", nil)
		m.SetDeployments(3)
	})
}

func TestRecordOp(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordOp("cancel", ResultOK, time.Millisecond)
	m.RecordOp("cancel", ResultOK, time.Millisecond)
	m.RecordOp("cancel", ResultInvalid, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.opsTotal.WithLabelValues("cancel", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.opsTotal.WithLabelValues("cancel", ResultInvalid)))
}

func TestRecordHandleAndDeployments(t *testing.T) {
	m := New(nil)
	m.RecordHandle("unmarshal", errors.New("bad token"))
	m.SetDeployments(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.handlesTotal.WithLabelValues("unmarshal", ResultError)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.deploymentsActive))
}

func TestReRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := New(reg)
	second := New(reg)

	first.RecordOp("deploy", ResultOK, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(second.opsTotal.WithLabelValues("deploy", ResultOK)))
}

func TestRegisterGatewayReaders(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterGatewayReaders(reg, "alpha", func() float64 { return 2 })
	RegisterGatewayReaders(reg, "beta", func() float64 { return 1 })

	n, err := testutil.GatherAndCount(reg, "corral_gateway_active_readers")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2.0, gatewayGauge(t, reg, "alpha"))
	assert.Equal(t, 1.0, gatewayGauge(t, reg, "beta"))
}

func TestRegisterGatewayReadersReplacesSource(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterGatewayReaders(reg, "alpha", func() float64 { return 2 })
	RegisterGatewayReaders(reg, "alpha", func() float64 { return 5 })

	n, err := testutil.GatherAndCount(reg, "corral_gateway_active_readers")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 5.0, gatewayGauge(t, reg, "alpha"))

	// Another registry gets its own gauge
	other := prometheus.NewRegistry()
	RegisterGatewayReaders(other, "alpha", func() float64 { return 7 })
	assert.Equal(t, 7.0, gatewayGauge(t, other, "alpha"))
	assert.Equal(t, 5.0, gatewayGauge(t, reg, "alpha"))
}

func gatewayGauge(t *testing.T, reg *prometheus.Registry, grid string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != "corral_gateway_active_readers" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "grid" && l.GetValue() == grid {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("no gateway gauge for grid %q", grid)
	return 0
}
