package api

import (
	"context"
	"net"
	"testing"

	"chatrelay/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunServer_PortInUse(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	cfg := common.RelayConfig{
		Host:     "127.0.0.1",
		Port:     occupied.Addr().(*net.TCPAddr).Port,
		Provider: "anthropic",
	}
	err = RunServer(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestRunServer_InvalidAllowedOrigin(t *testing.T) {
	cfg := common.RelayConfig{Host: "127.0.0.1", Port: 1, AllowedOrigins: []string{"not a url"}}
	assert.Error(t, RunServer(context.Background(), cfg))
}
