package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecoversAndTagsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := NewMetrics()
	mw := Middleware{Metrics: metrics}
	router := gin.New()
	router.Use(mw.RequestID(), mw.AccessLog(), mw.Recovery())
	var seen string
	router.GET("/ok", func(c *gin.Context) {
		seen = RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})
	router.GET("/boom", func(*gin.Context) { panic("ledger exploded") })

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("X-Request-ID", "req-7")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if seen != "req-7" || rec.Header().Get("X-Request-ID") != "req-7" {
		t.Fatalf("request id = %q / %q", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError || rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("panic response = %d %q", rec.Code, rec.Header().Get("X-Request-ID"))
	}
	if n := testutil.CollectAndCount(metrics.httpLatency); n != 2 {
		t.Fatalf("latency series = %d", n)
	}
}
