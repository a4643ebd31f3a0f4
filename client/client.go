package client

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client talks to a chatrelay relay server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the relay at baseURL. No overall timeout is
// set because chat streams stay open for as long as the model keeps writing.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}
