package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/relaychat/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("relay", "GET", "/health", 200, 12*time.Millisecond)
	RecordConnectionOpened("tcp")
	RecordConnectionClosed()
	RecordFrame("in", "send")
	RecordDecodeError("invalid_frame")
	RecordRateLimited()
	RecordPublishFailure()

	before := testutil.ToFloat64(skippedMessages)
	RecordLag(5)
	if got := testutil.ToFloat64(skippedMessages) - before; got != 5 {
		t.Fatalf("expected 5 skipped messages recorded, got %v", got)
	}
}

func TestRequestMiddlewareRecordsRoute(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogger(ComponentLogger("test")), RequestMetricsMiddleware("relay-test"))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	got := testutil.ToFloat64(httpRequests.WithLabelValues("relay-test", "GET", "/health", "204"))
	if got != 1 {
		t.Fatalf("expected one recorded request, got %v", got)
	}
}
