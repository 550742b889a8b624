package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegisterTwice(t *testing.T) {
	assert.NotPanics(t, func() {
		Register(zap.NewNop())
		Register(nil)
	})
}

func TestObserveStamp(t *testing.T) {
	before := testutil.ToFloat64(stampTotal.WithLabelValues("pdf", OutcomeStamped))
	ObserveStamp("pdf", OutcomeStamped, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(stampTotal.WithLabelValues("pdf", OutcomeStamped)))

	beforeFont := testutil.ToFloat64(fontDegraded)
	FontDegraded(2)
	FontDegraded(0)
	assert.Equal(t, beforeFont+2, testutil.ToFloat64(fontDegraded))

	beforePreview := testutil.ToFloat64(previewTotal.WithLabelValues("xlsx"))
	ObservePreview("xlsx")
	assert.Equal(t, beforePreview+1, testutil.ToFloat64(previewTotal.WithLabelValues("xlsx")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	Register(nil)
	ObserveStamp("xlsx", OutcomeUnchanged, time.Millisecond)

	r := chi.NewRouter()
	r.Use(HTTPMetrics)
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("pong")) })
	r.Handle("/metrics", Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `signstamp_stamp_total{outcome="unchanged",type="xlsx"}`), body)
	assert.Contains(t, body, `http_request_duration_seconds_count{method="GET",path="/ping",status="200"}`)
}
