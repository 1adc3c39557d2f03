package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"webrag-go/pkg/log"
)

func TestRequestLoggerKeepsBodyReadable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	r.POST("/echo", func(c *gin.Context) {
		b, err := io.ReadAll(c.Request.Body)
		require.NoError(t, err)
		c.String(http.StatusOK, strings.Repeat(string(b), 1000))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("ping"))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4000, w.Body.Len())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc"))
	long := strings.Repeat("x", maxLoggedBody+10)
	assert.True(t, strings.HasSuffix(truncate(long), "...(truncated)"))
	assert.Len(t, truncate(long), maxLoggedBody+len("...(truncated)"))
}

func TestRequestLoggerSkipsMetricsBody(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log.Replace(zap.New(core))
	t.Cleanup(func() { log.Replace(zap.NewNop()) })

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/metrics", func(c *gin.Context) { c.String(http.StatusOK, "# HELP go_goroutines") })
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for _, path := range []string{"/metrics", "/health"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.FilterMessage("HTTP Request Log").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "/metrics", entries[0].ContextMap()["path"])
	assert.Equal(t, "", entries[0].ContextMap()["responseBody"])
	assert.Equal(t, "ok", entries[1].ContextMap()["responseBody"])
	assert.EqualValues(t, http.StatusOK, entries[1].ContextMap()["statusCode"])
}
