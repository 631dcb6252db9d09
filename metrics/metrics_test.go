package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/poiesic/docket/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.TaskFinished("process_document", core.TaskSuccess)
	m.TaskRetried("process_document")
	m.DocumentFinished(core.DocumentCompleted)

	body := scrape(t, m)
	assert.Contains(t, body, `docket_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, body, `docket_cache_lookups_total{result="miss"} 2`)
	assert.Contains(t, body, `docket_tasks_total{status="success",type="process_document"} 1`)
	assert.Contains(t, body, `docket_task_retries_total{type="process_document"} 1`)
	assert.Contains(t, body, `docket_documents_total{status="completed"} 1`)
}

func TestMetrics_ObservePhases(t *testing.T) {
	m := New()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.ObservePhases(&core.Document{
		ParsingStartedAt:     start,
		ParsingCompletedAt:   start.Add(time.Second),
		SplittingStartedAt:   start.Add(time.Second),
		SplittingCompletedAt: start.Add(2 * time.Second),
	})

	body := scrape(t, m)
	assert.Contains(t, body, `docket_document_phase_seconds_count{phase="parsing"} 1`)
	assert.Contains(t, body, `docket_document_phase_seconds_count{phase="splitting"} 1`)
	assert.NotContains(t, body, `phase="indexing"`)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheLookup(true)
		m.TaskFinished("x", core.TaskFailure)
		m.TaskRetried("x")
		m.DocumentFinished(core.DocumentError)
		m.ObservePhases(&core.Document{})
	})
}
