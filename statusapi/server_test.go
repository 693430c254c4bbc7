package statusapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookagent.dev/logging"
)

func testServerLog() *logging.ContextLogger {
	return logging.NewContextLogger(logging.New(logging.DefaultConfig()), nil)
}

func TestHealthzIsAlwaysOpen(t *testing.T) {
	manager := New(10)
	s := NewServer(":0", "top-secret", manager, testServerLog())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStateRequiresBearerTokenWhenSecretConfigured(t *testing.T) {
	manager := New(10)
	s := NewServer(":0", "top-secret", manager, testServerLog())

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStateServesListWithValidToken(t *testing.T) {
	manager := New(10)
	manager.Start("op-1", "submit", nil)
	s := NewServer(":0", "top-secret", manager, testServerLog())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "operator"})
	signed, err := token.SignedString([]byte("top-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "op-1")
}

func TestStateIsOpenWhenNoSecretConfigured(t *testing.T) {
	manager := New(10)
	s := NewServer(":0", "", manager, testServerLog())

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStateGetMissingReturnsNotFound(t *testing.T) {
	manager := New(10)
	s := NewServer(":0", "", manager, testServerLog())

	req := httptest.NewRequest(http.MethodGet, "/state/ghost", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStateStatsReturnsAggregate(t *testing.T) {
	manager := New(10)
	manager.Start("op-1", "submit", nil)
	s := NewServer(":0", "", manager, testServerLog())

	req := httptest.NewRequest(http.MethodGet, "/state/stats", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
}
