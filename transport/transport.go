package transport

import (
	"context"
	"net/http"
)

// Transport represents a network transport mechanism for outbound Central
// API HTTP requests. This abstraction lets a gateway agent route its
// forwarding traffic over plain HTTP/HTTPS or an OpenZiti overlay without
// the Forwarder knowing which.
type Transport interface {
	// RoundTrip executes a single HTTP transaction, returning the response.
	// This is compatible with http.RoundTripper interface.
	RoundTrip(*http.Request) (*http.Response, error)

	// Close closes any underlying connections and cleans up resources.
	Close() error
}

// Config holds configuration for transport creation
type Config struct {
	// Ziti configuration (for Ziti transport)
	ZitiIdentityFile string
	ZitiIdentityJSON string

	// HTTP configuration (for all transports)
	Timeout               int // seconds, overall request timeout
	ConnectTimeoutSeconds int // seconds, dial-phase timeout only
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       int // seconds
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Timeout:               30,
		ConnectTimeoutSeconds: 10,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90,
	}
}

// TransportType identifies the type of transport
type TransportType string

const (
	TransportHTTP TransportType = "http"
	TransportZiti TransportType = "ziti"
)

// URLScheme maps URL schemes to transport types
var URLScheme = map[string]TransportType{
	"http":      TransportHTTP,
	"https":     TransportHTTP,
	"ziti":      TransportZiti,
	"ziti+http": TransportZiti,
}

// Factory creates a Transport based on the configuration and type
type Factory interface {
	CreateTransport(ctx context.Context, transportType TransportType, config *Config) (Transport, error)
}
