package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/order-extractor/internal/llm"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RunFinished("delimited-v1", "SUCCEEDED", 120*time.Millisecond)
	m.RunFinished("delimited-v1", "SUCCEEDED", 80*time.Millisecond)
	m.Escalation("llm-text", "no_lines")
	m.LLMCall(llm.ModeText, llm.OutcomeOK)
	m.Repair(llm.OutcomeInvalid)
	m.GuardFlag("anchor", 3)
	m.GuardFlag("range", 0)
	m.Cost(0.25)
	m.Cost(-1)
	m.CacheLookup(true)
	m.CacheLookup(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("delimited-v1", "SUCCEEDED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EscalationsTotal.WithLabelValues("llm-text", "no_lines")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMCallsTotal.WithLabelValues("text", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RepairsTotal.WithLabelValues("invalid")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.GuardFlagsTotal.WithLabelValues("anchor")))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.LLMCostUSD))
	assert.Equal(t, 1, testutil.CollectAndCount(m.GuardFlagsTotal))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `orderex_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, string(body), "orderex_run_duration_seconds_bucket")
}

var _ llm.Observer = (*Metrics)(nil)
