package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nfocore/optionengine/internal/clock"
	"github.com/nfocore/optionengine/internal/models"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.APIKey = "test-key"
	cfg.MaxRetries = 2
	return NewClient(cfg, clock.NewFake(time.Now()), nil)
}

func TestClient_GetInstruments_CachesWithinTTL(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode([]models.Instrument{
			{Token: 1, Symbol: models.Symbol{Code: "NIFTY", Exchange: models.ExchangeNSE}, LotSize: 1},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	ctx := context.Background()

	list1, err := c.GetInstruments(ctx, models.ExchangeNSE)
	require.NoError(t, err)
	require.Len(t, list1, 1)

	list2, err := c.GetInstruments(ctx, models.ExchangeNSE)
	require.NoError(t, err)
	require.Equal(t, list1, list2)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "second call within TTL must be served from cache")
}

func TestClient_Call_AuthFailureReturnsErrAuthFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.GetInstruments(context.Background(), models.ExchangeNSE)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestClient_Call_RetriesOnServerErrorThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode([]models.Instrument{})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	list, err := c.GetInstruments(context.Background(), models.ExchangeNSE)
	require.NoError(t, err)
	require.Empty(t, list)
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestClient_Call_PermanentClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.GetInstruments(context.Background(), models.ExchangeNSE)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "4xx other than 429 must fail fast, not retry")
}

func TestFullJitterBackoff_BoundedByMinAndMax(t *testing.T) {
	const min = time.Second
	const max = 10 * time.Second

	for attempt := 0; attempt < 8; attempt++ {
		for i := 0; i < 20; i++ {
			d := fullJitterBackoff(min, max, attempt, nil)
			require.GreaterOrEqual(t, d, time.Duration(0))
			require.LessOrEqual(t, d, max)
		}
	}
}

func TestFullJitterBackoff_GrowsWithAttempt(t *testing.T) {
	const min = time.Second
	const max = 10 * time.Second

	var sawLarge bool
	for i := 0; i < 50; i++ {
		if fullJitterBackoff(min, max, 0, nil) >= min {
			t.Fatalf("attempt 0 must never exceed min (%s)", min)
		}
	}
	for i := 0; i < 200; i++ {
		if fullJitterBackoff(min, max, 5, nil) > max/2 {
			sawLarge = true
			break
		}
	}
	require.True(t, sawLarge, "later attempts should be able to draw from a wider range than early ones")
}
