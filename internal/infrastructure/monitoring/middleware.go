package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		c.Next()

		// route template keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		respSize := int64(c.Writer.Size())
		if respSize < 0 {
			respSize = 0
		}

		metrics.RecordHTTPRequest(method, path, status, time.Since(start), respSize)
	}
}

// Timer measures an engine operation
type Timer struct {
	start   time.Time
	metrics *Metrics
	engine  string
	method  string
}

// NewTimer creates a new timer. A nil metrics makes Stop a no-op.
func NewTimer(metrics *Metrics, engine, method string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		engine:  engine,
		method:  method,
	}
}

// Stop stops the timer and records the duration
func (t *Timer) Stop(status string) {
	if t.metrics == nil {
		return
	}
	t.metrics.RecordEngineCall(t.engine, t.method, status, time.Since(t.start))
}

// StopErr records "success" or "error" depending on err
func (t *Timer) StopErr(err error) {
	if err != nil {
		t.Stop("error")
		return
	}
	t.Stop("success")
}
