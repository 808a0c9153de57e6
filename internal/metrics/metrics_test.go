package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.JobRun("news", "succeeded")
	c.JobRun("news", "succeeded")
	c.JobSkipped("flows", "not_trading_day")
	c.SourceItems("moneycontrol", 5)
	c.SourceFailure("nse")
	c.Delivery(DeliverySent)
	c.LedgerSize(42)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobRuns.WithLabelValues("news", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobSkips.WithLabelValues("flows", "not_trading_day")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.sourceItems.WithLabelValues("moneycontrol")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sourceFailures.WithLabelValues("nse")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues(DeliverySent)))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.ledgerSize))
}

func TestHandlerServesMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.Delivery(DeliverySent)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `marketpulse_deliveries_total{outcome="sent"} 1`)
}

func TestOrNop(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Nop{}, OrNop(nil))
	c := NewCollector(prometheus.NewRegistry())
	assert.Same(t, c, OrNop(c))
}
