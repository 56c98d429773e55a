package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// traceOf runs one request through TraceID and returns the id the handler
// saw along with the response header.
func traceOf(t *testing.T, header string) (seen, echoed string) {
	t.Helper()
	r := gin.New()
	r.Use(TraceID())
	r.GET("/api/quests", func(c *gin.Context) {
		c.String(http.StatusOK, GetTraceID(c))
	})
	req := httptest.NewRequest(http.MethodGet, "/api/quests", nil)
	if header != "" {
		req.Header.Set(TraceIDHeader, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String(), w.Header().Get(TraceIDHeader)
}

func TestTraceID_GeneratesUUID(t *testing.T) {
	seen, echoed := traceOf(t, "")
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, echoed)

	other, _ := traceOf(t, "")
	assert.NotEqual(t, seen, other)
}

func TestTraceID_KeepsClientValue(t *testing.T) {
	seen, echoed := traceOf(t, "session-42.req-7")
	assert.Equal(t, "session-42.req-7", seen)
	assert.Equal(t, "session-42.req-7", echoed)
}

func TestTraceID_ReplacesMalformed(t *testing.T) {
	for _, bad := range []string{"has space", strings.Repeat("x", maxTraceIDLen+1), "tab\there", "café"} {
		seen, echoed := traceOf(t, bad)
		assert.NotEqual(t, bad, seen)
		assert.Len(t, seen, 36)
		assert.Equal(t, seen, echoed)
	}
}

func TestGetTraceID_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "", GetTraceID(c))
}
