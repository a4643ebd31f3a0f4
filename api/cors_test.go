package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAllowedOrigins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		input       []string
		wantOrigins []string
		wantAny     bool
		wantErr     bool
		errContains string
	}{
		{
			name:    "empty list allows any origin",
			input:   nil,
			wantAny: true,
		},
		{
			name:        "single valid origin",
			input:       []string{"http://localhost:5173"},
			wantOrigins: []string{"http://localhost:5173"},
		},
		{
			name:        "multiple valid origins",
			input:       []string{"http://localhost:5173", "https://example.com"},
			wantOrigins: []string{"http://localhost:5173", "https://example.com"},
		},
		{
			name:        "origins with whitespace",
			input:       []string{" http://localhost:5173 ", " https://example.com"},
			wantOrigins: []string{"http://localhost:5173", "https://example.com"},
		},
		{
			name:    "blank entries are ignored",
			input:   []string{"", "  "},
			wantAny: true,
		},
		{
			name:        "origin with trailing slash rejected",
			input:       []string{"http://localhost:5173/"},
			wantErr:     true,
			errContains: "must not have path",
		},
		{
			name:        "missing scheme",
			input:       []string{"localhost:5173"},
			wantErr:     true,
			errContains: "must have scheme and host",
		},
		{
			name:        "origin with query",
			input:       []string{"http://localhost:5173?foo=bar"},
			wantErr:     true,
			errContains: "must not have query",
		},
		{
			name:        "origin with fragment",
			input:       []string{"http://localhost:5173#section"},
			wantErr:     true,
			errContains: "must not have fragment",
		},
		{
			name:        "default port kept as written",
			input:       []string{"https://example.com:443"},
			wantOrigins: []string{"https://example.com:443"},
		},
		{
			name:        "IPv6 origin",
			input:       []string{"http://[::1]:5173"},
			wantOrigins: []string{"http://[::1]:5173"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ao, err := ParseAllowedOrigins(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAny, ao.AllowsAny())
			for _, origin := range tt.wantOrigins {
				assert.True(t, ao.IsAllowed(origin), "expected %s to be allowed", origin)
			}
		})
	}
}

func TestAllowedOrigins_IsAllowed(t *testing.T) {
	t.Parallel()

	ao := &AllowedOrigins{
		origins: map[string]struct{}{
			"http://localhost:5173": {},
			"https://example.com":   {},
		},
	}

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"empty origin allowed", "", true},
		{"allowed localhost", "http://localhost:5173", true},
		{"allowed https", "https://example.com", true},
		{"disallowed different port", "http://localhost:9999", false},
		{"disallowed different host", "http://evil.com", false},
		{"disallowed different scheme", "https://localhost:5173", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ao.IsAllowed(tt.origin))
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	allowedOrigins := &AllowedOrigins{
		origins: map[string]struct{}{
			"http://localhost:5173": {},
		},
	}

	newRouter := func(ao *AllowedOrigins) *gin.Engine {
		r := gin.New()
		r.Use(CORSMiddleware(ao))
		r.GET("/test", func(c *gin.Context) {
			c.String(http.StatusOK, "ok")
		})
		return r
	}

	t.Run("request without Origin header passes through", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()
		newRouter(allowedOrigins).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("request with allowed Origin gets CORS headers", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		w := httptest.NewRecorder()
		newRouter(allowedOrigins).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", w.Header().Get("Vary"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("request with disallowed Origin returns 403", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "http://evil.com")
		w := httptest.NewRecorder()
		newRouter(allowedOrigins).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("empty allowlist reflects any Origin", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "http://anything.example")
		w := httptest.NewRecorder()
		newRouter(&AllowedOrigins{}).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "http://anything.example", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("OPTIONS preflight with allowed Origin returns 204", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest("OPTIONS", "/test", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		w := httptest.NewRecorder()
		newRouter(allowedOrigins).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "GET")
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "x-user-id")
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "x-session-id")
		assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
	})

	t.Run("OPTIONS without Origin reaches the router", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest("OPTIONS", "/test", nil)
		w := httptest.NewRecorder()
		newRouter(allowedOrigins).ServeHTTP(w, req)

		assert.NotEqual(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("OPTIONS preflight with disallowed Origin returns 403", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest("OPTIONS", "/test", nil)
		req.Header.Set("Origin", "http://evil.com")
		w := httptest.NewRecorder()
		newRouter(allowedOrigins).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
