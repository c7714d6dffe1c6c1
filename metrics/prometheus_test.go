// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	dto "github.com/prometheus/client_model/go"
)

// meters declared at package level, before any implementation is installed
var (
	lazyCount    = LazyLoadCounter("lazy_count1")
	lazyCountVec = LazyLoadCounterVec("lazy_count_vec1", []string{"side"})
	lazyGauge    = LazyLoadGauge("lazy_gauge1")
)

func gather(t *testing.T) map[string]*dto.MetricFamily {
	families, err := prometheus.Gatherers{prometheus.DefaultGatherer}.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily)
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	return byName
}

func TestPromMetrics(t *testing.T) {
	InitializePrometheusMetrics()

	count := Counter("count1")
	countVec := CounterVec("count_vec1", []string{"side"})
	gauge := Gauge("gauge1")
	hist := Histogram("hist1", nil)

	count.Add(1)
	count.Add(2)
	countVec.AddWithLabel(5, map[string]string{"side": "left"})
	countVec.AddWithLabel(7, map[string]string{"side": "right"})
	gauge.Set(42)
	histTotal := int64(0)
	for i := int64(1); i <= 10; i++ {
		hist.Observe(i)
		histTotal += i
	}

	byName := gather(t)
	require.Equal(t, float64(3), byName["vault_metrics_count1"].Metric[0].GetCounter().GetValue())
	require.Equal(t, float64(42), byName["vault_metrics_gauge1"].Metric[0].GetGauge().GetValue())
	require.Equal(t, float64(histTotal), byName["vault_metrics_hist1"].Metric[0].GetHistogram().GetSampleSum())

	sum := float64(0)
	for _, m := range byName["vault_metrics_count_vec1"].Metric {
		sum += m.GetCounter().GetValue()
	}
	require.Equal(t, float64(12), sum)
}

// A package-level meter is declared long before InitializePrometheusMetrics
// runs. LazyLoad must bind it to the implementation installed at first use,
// not the no-op placeholder present at package init.
func TestLazyLoadBindsInstalledImplementation(t *testing.T) {
	InitializePrometheusMetrics()

	lazyCount().Add(9)
	lazyCountVec().AddWithLabel(4, map[string]string{"side": "left"})
	lazyGauge().Set(11)

	byName := gather(t)
	require.Equal(t, float64(9), byName["vault_metrics_lazy_count1"].Metric[0].GetCounter().GetValue())
	require.Equal(t, float64(4), byName["vault_metrics_lazy_count_vec1"].Metric[0].GetCounter().GetValue())
	require.Equal(t, float64(11), byName["vault_metrics_lazy_gauge1"].Metric[0].GetGauge().GetValue())
}
