package dashboard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nfocore/optionengine/internal/models"
)

type fakeSnapshotProvider struct {
	snap models.PortfolioSnapshot
}

func (f fakeSnapshotProvider) Snapshot() models.PortfolioSnapshot { return f.snap }

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestHandleHealth_AlwaysPublic(t *testing.T) {
	s := NewServer(Config{Port: 0, AuthToken: "secret"}, fakeSnapshotProvider{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStatus_RejectsMissingToken(t *testing.T) {
	s := NewServer(Config{Port: 0, AuthToken: "secret"}, fakeSnapshotProvider{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleStatus_AcceptsValidToken(t *testing.T) {
	snap := models.PortfolioSnapshot{Mode: models.ModePaper, Cash: models.Rupees(1000)}
	s := NewServer(Config{Port: 0, AuthToken: "secret"}, fakeSnapshotProvider{snap: snap}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-Auth-Token", "secret")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStatus_NoAuthTokenConfiguredAllowsAll(t *testing.T) {
	s := NewServer(Config{Port: 0}, fakeSnapshotProvider{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
