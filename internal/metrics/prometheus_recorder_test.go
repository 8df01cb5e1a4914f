package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncTransition("WORKING", "LUNCH_BREAK")
	pr.IncEvaluation(OutcomeTransition)
	pr.ObserveEvaluationDuration(5 * time.Millisecond)
	pr.IncDebounced()
	pr.SetActiveUsers(3)
	pr.IncPromptAnswer("confirm", false)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "worktracker_transitions_total"))
}

func TestPrometheusRecorder_NilReceiver(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.IncTransition("a", "b")
		pr.IncEvaluation(OutcomeNoMatch)
		pr.SetActiveUsers(1)
	})
}
