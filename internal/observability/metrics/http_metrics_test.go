package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGinMiddlewareCountsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newHTTPMetrics(prometheus.NewRegistry(), Config{ServiceName: "loyaltyrail"})

	router := gin.New()
	router.Use(GinMiddleware(m))
	router.POST("/webhooks/shopify/:merchantId", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify/"+id, nil)
		router.ServeHTTP(rec, req)
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodPost, "/webhooks/shopify/:merchantId", "200"))
	if got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
}
