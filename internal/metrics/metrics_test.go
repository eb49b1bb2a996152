package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, pipelineRunsTotal)
}

func TestObserversDoNotPanic(t *testing.T) {
	ObserveRun("succeeded")
	ObserveRun("empty")
	ObserveFetch(120 * time.Millisecond)
	ObserveNormalize(8, 2)
	ObserveSync(40 * time.Millisecond)
	ObserveHTTPRequest("GET", "/v1/earthquakes/recent", 200, 15*time.Millisecond)
}

func TestHandlerServesScrape(t *testing.T) {
	ObserveRun("succeeded")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "quakepipe_runs_total")
}
