package common

import (
	"fmt"
	"os"
	"strconv"
)

const (
	defaultBindHost    = "0.0.0.0"
	defaultRelayPort   = 3001
	defaultGatewayPort = 3000
)

// GetServerPort returns PORT from the environment, or defaultPort when unset.
// Each server runs as its own process, so a single variable is enough.
func GetServerPort(defaultPort int) int {
	port := os.Getenv("PORT")
	if port == "" {
		return defaultPort
	}

	intPort, err := strconv.Atoi(port)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse server port: %s", port))
	}
	return intPort
}

func GetServerHost(defaultHost string) string {
	host := os.Getenv("HOST")
	if host == "" {
		return defaultHost
	}
	return host
}

func HostPort(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
