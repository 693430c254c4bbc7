package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Manager manages multiple transports and routes outbound Central API
// requests based on URL scheme, so a gateway agent can mix plain HTTP and
// Ziti-routed calls without its callers caring which.
type Manager struct {
	transports map[TransportType]Transport
	configs    map[TransportType]*Config
	mu         sync.RWMutex
	ctx        context.Context
}

// NewManager creates a new transport manager
func NewManager(ctx context.Context) *Manager {
	return &Manager{
		transports: make(map[TransportType]Transport),
		configs:    make(map[TransportType]*Config),
		ctx:        ctx,
	}
}

// RegisterTransport registers a transport for a specific type
func (m *Manager) RegisterTransport(transportType TransportType, transport Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transports[transportType] = transport
}

// RegisterTransportWithConfig registers and creates a transport based on configuration
func (m *Manager) RegisterTransportWithConfig(transportType TransportType, config *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Store config for potential re-initialization
	m.configs[transportType] = config

	// Create transport
	var transport Transport
	var err error

	switch transportType {
	case TransportHTTP:
		transport, err = NewHTTPTransport(m.ctx, config)
	case TransportZiti:
		transport, err = NewZitiTransport(m.ctx, config)
	default:
		return fmt.Errorf("unknown transport type: %s", transportType)
	}

	if err != nil {
		return fmt.Errorf("failed to create %s transport: %w", transportType, err)
	}

	m.transports[transportType] = transport
	return nil
}

// GetTransport returns the transport for a given type
func (m *Manager) GetTransport(transportType TransportType) (Transport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	transport, ok := m.transports[transportType]
	if !ok {
		return nil, fmt.Errorf("transport not registered: %s", transportType)
	}

	return transport, nil
}

// GetTransportForURL returns the appropriate transport based on URL scheme
func (m *Manager) GetTransportForURL(urlScheme string) (Transport, error) {
	// Map URL scheme to transport type
	transportType, ok := URLScheme[urlScheme]
	if !ok {
		return nil, fmt.Errorf("unsupported URL scheme: %s", urlScheme)
	}

	return m.GetTransport(transportType)
}

// RoundTrip implements http.RoundTripper interface.
// This routes the request to the appropriate transport based on URL scheme.
func (m *Manager) RoundTrip(req *http.Request) (*http.Response, error) {
	transport, err := m.GetTransportForURL(req.URL.Scheme)
	if err != nil {
		return nil, err
	}

	return transport.RoundTrip(req)
}

// Client creates an http.Client that uses this transport manager, with an
// overall request timeout of timeout seconds (0 means no timeout)
func (m *Manager) Client(timeout int) *http.Client {
	return &http.Client{
		Transport: m,
		Timeout:   time.Duration(timeout) * time.Second,
	}
}

// Close closes all registered transports
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for transportType, transport := range m.transports {
		if err := transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s transport: %w", transportType, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing transports: %v", errs)
	}

	return nil
}

// DefaultManager creates a manager with HTTP transport pre-configured
func DefaultManager(ctx context.Context) (*Manager, error) {
	manager := NewManager(ctx)

	// Register HTTP transport with default config
	if err := manager.RegisterTransportWithConfig(TransportHTTP, DefaultConfig()); err != nil {
		return nil, err
	}

	return manager, nil
}

// DefaultManagerWithAllTransports creates a manager with the HTTP transport
// (httpConfig, or DefaultConfig if nil) and, when zitiConfig carries an
// identity file or identity JSON, the Ziti transport
func DefaultManagerWithAllTransports(ctx context.Context, httpConfig, zitiConfig *Config) (*Manager, error) {
	manager := NewManager(ctx)

	// Register HTTP transport
	if httpConfig == nil {
		httpConfig = DefaultConfig()
	}
	if err := manager.RegisterTransportWithConfig(TransportHTTP, httpConfig); err != nil {
		return nil, fmt.Errorf("failed to register HTTP transport: %w", err)
	}

	// Register Ziti transport if configured
	if zitiConfig != nil && (zitiConfig.ZitiIdentityFile != "" || zitiConfig.ZitiIdentityJSON != "") {
		if err := manager.RegisterTransportWithConfig(TransportZiti, zitiConfig); err != nil {
			return nil, fmt.Errorf("failed to register Ziti transport: %w", err)
		}
	}

	return manager, nil
}

// SupportedSchemes returns a list of supported URL schemes
func (m *Manager) SupportedSchemes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	schemes := make([]string, 0)
	seenTypes := make(map[TransportType]bool)

	for scheme, transportType := range URLScheme {
		if _, ok := m.transports[transportType]; ok {
			if !seenTypes[transportType] {
				schemes = append(schemes, scheme)
				seenTypes[transportType] = true
			}
		}
	}

	return schemes
}

// GetConfig returns the configuration for a transport type
func (m *Manager) GetConfig(transportType TransportType) (*Config, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	config, ok := m.configs[transportType]
	return config, ok
}
