package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"vjudge/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

func TestTraceContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TraceContextMiddleware(), AccessLog())

	var ctxTrace, ginTrace interface{}
	router.GET("/trace", func(c *gin.Context) {
		ctxTrace = c.Request.Context().Value(contextkey.TraceID)
		ginTrace, _ = c.Get("trace_id")
		c.Status(http.StatusNoContent)
	})

	t.Run("preserve incoming ids", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/trace", nil)
		req.Header.Set("X-Trace-Id", "trace-123")
		req.Header.Set("X-Request-Id", "req-123")
		router.ServeHTTP(rec, req)

		if got := rec.Header().Get("X-Trace-Id"); got != "trace-123" {
			t.Fatalf("trace header = %q", got)
		}
		if got := rec.Header().Get("X-Request-Id"); got != "req-123" {
			t.Fatalf("request header = %q", got)
		}
		if ctxTrace != "trace-123" || ginTrace != "trace-123" {
			t.Fatalf("trace id not bound: ctx=%v gin=%v", ctxTrace, ginTrace)
		}
	})

	t.Run("generate missing ids", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trace", nil))
		if rec.Header().Get("X-Trace-Id") == "" || rec.Header().Get("X-Request-Id") == "" {
			t.Fatalf("expected generated ids, headers=%v", rec.Header())
		}
	})
}
