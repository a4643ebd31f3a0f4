package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogLevel(t *testing.T) {
	t.Setenv("CHATRELAY_LOG_LEVEL", "")
	assert.Equal(t, zerolog.InfoLevel, GetLogLevel())

	t.Setenv("CHATRELAY_LOG_LEVEL", "0")
	assert.Equal(t, zerolog.DebugLevel, GetLogLevel())

	t.Setenv("CHATRELAY_LOG_LEVEL", "not-a-number")
	assert.Equal(t, zerolog.InfoLevel, GetLogLevel())
}

func TestNewLogger_RespectsLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := newLogger(&buf, zerolog.WarnLevel)

	l.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	l.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	base := newLogger(&buf, zerolog.DebugLevel)

	r := gin.New()
	r.Use(GinMiddleware(base))
	r.GET("/missing", func(c *gin.Context) {
		zerolog.Ctx(c.Request.Context()).Debug().Msg("inside handler")
		c.Status(http.StatusNotFound)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	r.ServeHTTP(w, req)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var handlerLine, requestLine map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &handlerLine))
	require.NoError(t, json.Unmarshal(lines[1], &requestLine))

	assert.Equal(t, "inside handler", handlerLine["message"])
	assert.Equal(t, "warn", requestLine["level"])
	assert.Equal(t, float64(http.StatusNotFound), requestLine["status"])
	assert.Equal(t, "/missing", requestLine["path"])
	assert.NotEmpty(t, requestLine["requestId"])
	assert.Equal(t, handlerLine["requestId"], requestLine["requestId"])
}
