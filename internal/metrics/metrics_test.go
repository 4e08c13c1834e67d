package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestHandlerExposesRecordedSeries(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()

	m.ObserveGeneration("ok", 2*time.Second)
	m.StageFailed("quiz")
	m.IllustrationDone("ready")

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`sandbox_generations_total{outcome="ok"} 1`,
		`sandbox_generation_stage_failures_total{stage="quiz"} 1`,
		`sandbox_illustrations_total{outcome="ready"} 1`,
		`sandbox_http_requests_total{method="GET",route="/ping",status="204"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveGeneration("ok", time.Second)
	m.StageFailed("text")
	m.IllustrationDone("missing")
	m.ObserveAPI("GET", "/", 200, time.Millisecond)
}
