package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognisphere/hybridmem-go/pkg/metrics"
)

// gathered sums the counter or gauge values of one metric family.
func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			sum += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	return sum
}

func TestNew_IndependentRegistries(t *testing.T) {
	a := metrics.New(nil)
	b := metrics.New(nil)

	a.Queries.Inc()
	a.Searches.WithLabelValues("vector").Add(2)
	a.SetSizes(3, 2, 1)

	assert.Equal(t, 1.0, gathered(t, a.Registry, "hybridmem_queries_total"))
	assert.Equal(t, 0.0, gathered(t, b.Registry, "hybridmem_queries_total"))
	assert.Equal(t, 2.0, gathered(t, a.Registry, "hybridmem_searches_total"))
	assert.Equal(t, 3.0, gathered(t, a.Registry, "hybridmem_graph_nodes"))
	assert.Equal(t, 1.0, gathered(t, a.Registry, "hybridmem_vector_entries"))
}
