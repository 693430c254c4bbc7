package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	closed bool
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func TestDefaultManagerRegistersHTTPTransport(t *testing.T) {
	manager, err := DefaultManager(context.Background())
	require.NoError(t, err)

	tr, err := manager.GetTransport(TransportHTTP)
	require.NoError(t, err)
	assert.NotNil(t, tr)
}

func TestGetTransportForURLRoutesByScheme(t *testing.T) {
	manager := NewManager(context.Background())
	fake := &fakeTransport{}
	manager.RegisterTransport(TransportZiti, fake)

	tr, err := manager.GetTransportForURL("ziti+http")
	require.NoError(t, err)
	assert.Same(t, fake, tr)
}

func TestGetTransportForURLUnsupportedScheme(t *testing.T) {
	manager := NewManager(context.Background())
	_, err := manager.GetTransportForURL("ftp")
	assert.Error(t, err)
}

func TestManagerRoundTripDelegatesToRegisteredTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	manager, err := DefaultManager(context.Background())
	require.NoError(t, err)

	client := manager.Client(0)
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestManagerCloseClosesAllTransports(t *testing.T) {
	manager := NewManager(context.Background())
	fake := &fakeTransport{}
	manager.RegisterTransport(TransportZiti, fake)

	require.NoError(t, manager.Close())
	assert.True(t, fake.closed)
}

func TestSupportedSchemesReflectsRegisteredTransports(t *testing.T) {
	manager := NewManager(context.Background())
	manager.RegisterTransport(TransportHTTP, &fakeTransport{})

	schemes := manager.SupportedSchemes()
	assert.Contains(t, schemes, "http")
	assert.Contains(t, schemes, "https")
	assert.NotContains(t, schemes, "ziti")
}

func TestDefaultManagerWithAllTransportsSkipsZitiWhenUnconfigured(t *testing.T) {
	manager, err := DefaultManagerWithAllTransports(context.Background(), nil, nil)
	require.NoError(t, err)

	_, err = manager.GetTransport(TransportZiti)
	assert.Error(t, err, "ziti transport must not be registered without identity configuration")
}
