package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobfgrant/anejo/errors"
)

func testCounter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "test",
		Name:      name,
		Help:      "test counter",
	})
}

func TestRegisterAndGather(t *testing.T) {
	r := NewRegistry()
	counter := testCounter("events_total")

	require.NoError(t, r.Register("pipeline", "events", counter))
	counter.Inc()

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "anejo_test_events_total")
}

func TestRegisterDuplicateKey(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("pipeline", "events", testCounter("a_total")))

	err := r.Register("pipeline", "events", testCounter("b_total"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterPrometheusConflict(t *testing.T) {
	r := NewRegistry()

	// Different keys, same underlying metric name
	require.NoError(t, r.Register("pipeline", "events", testCounter("c_total")))

	err := r.Register("gateway", "events", testCounter("c_total"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregisterAllowsReRegistration(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("pipeline", "events", testCounter("d_total")))
	assert.True(t, r.Unregister("pipeline", "events"))
	assert.False(t, r.Unregister("pipeline", "events"))

	require.NoError(t, r.Register("pipeline", "events", testCounter("d_total")))
}
