package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	relayAllowedMethods = "GET,POST,OPTIONS"
	// The browser EventSource sends Accept and Cache-Control; x-user-id and
	// x-session-id identify the caller to the tool gateway.
	relayAllowedHeaders = "Authorization,Content-Type,Accept,Cache-Control,x-user-id,x-session-id"
	preflightMaxAge     = 10 * 60
)

// AllowedOrigins is the set of browser origins permitted to call the relay.
// An empty set allows every origin.
type AllowedOrigins struct {
	origins map[string]struct{}
}

func (ao *AllowedOrigins) AllowsAny() bool {
	return len(ao.origins) == 0
}

// IsAllowed reports whether origin may receive CORS headers. Requests without
// an Origin header (non-browser clients) are always allowed.
func (ao *AllowedOrigins) IsAllowed(origin string) bool {
	if origin == "" || ao.AllowsAny() {
		return true
	}
	_, ok := ao.origins[origin]
	return ok
}

// ParseAllowedOrigins builds the allowlist from the relay.allowed_origins
// entries. Blank entries are skipped.
func ParseAllowedOrigins(entries []string) (*AllowedOrigins, error) {
	ao := &AllowedOrigins{origins: make(map[string]struct{}, len(entries))}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		origin, err := canonicalOrigin(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid origin %q: %w", entry, err)
		}
		ao.origins[origin] = struct{}{}
	}
	return ao, nil
}

// canonicalOrigin reduces raw to scheme://host[:port], the form browsers send
// in the Origin header.
func canonicalOrigin(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch {
	case parsed.Scheme == "" || parsed.Host == "":
		return "", fmt.Errorf("must have scheme and host")
	case parsed.Path != "":
		return "", fmt.Errorf("must not have path")
	case parsed.RawQuery != "":
		return "", fmt.Errorf("must not have query")
	case parsed.Fragment != "":
		return "", fmt.Errorf("must not have fragment")
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

// CORSMiddleware reflects allowed origins with credentials and rejects the
// rest with 403. Preflights are answered here and never reach a handler.
func CORSMiddleware(allowedOrigins *AllowedOrigins) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if !allowedOrigins.IsAllowed(origin) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		header := c.Writer.Header()
		header.Set("Access-Control-Allow-Origin", origin)
		header.Add("Vary", "Origin")
		header.Set("Access-Control-Allow-Credentials", "true")

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}
		header.Set("Access-Control-Allow-Methods", relayAllowedMethods)
		header.Set("Access-Control-Allow-Headers", relayAllowedHeaders)
		header.Set("Access-Control-Max-Age", strconv.Itoa(preflightMaxAge))
		c.AbortWithStatus(http.StatusNoContent)
	}
}
