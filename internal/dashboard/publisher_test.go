package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nfocore/optionengine/internal/models"
)

func TestPublish_SendsExpectedPayloadShape(t *testing.T) {
	var captured sinkPayload
	var gotAPIKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-API-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewPublisher(PublisherConfig{BaseURL: server.URL, APIKey: "key-123"}, discardLogger())

	sym := models.Symbol{Code: "NIFTY25000CE", Exchange: models.ExchangeNFO, Segment: models.SegmentOption}
	pos := models.NewPosition(sym, models.UnderlyingNIFTY)
	pos.Shares = 50
	pos.EntryPrice = models.Rupees(100)

	snap := models.PortfolioSnapshot{
		Mode:      models.ModePaper,
		Cash:      models.Rupees(50000),
		Positions: map[models.Symbol]*models.Position{sym: pos},
		Stats:     models.Statistics{TotalTrades: 3, WinningTrades: 2, LosingTrades: 1},
	}
	priceMap := map[models.Symbol]models.Money{sym: models.Rupees(110)}

	p.Publish(context.Background(), snap, priceMap, time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC))

	require.Equal(t, "key-123", gotAPIKey)
	require.Equal(t, models.ModePaper, captured.Mode)
	require.Len(t, captured.Positions, 1)
	require.Equal(t, models.Rupees(110), captured.Positions[0].CurrentPrice)
}

func TestPublish_NoBaseURLIsNoop(t *testing.T) {
	p := NewPublisher(PublisherConfig{}, discardLogger())
	p.Publish(context.Background(), models.PortfolioSnapshot{}, nil, time.Now())
}

func TestPublish_SinkFailureDoesNotPanic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewPublisher(PublisherConfig{BaseURL: server.URL, APIKey: "key"}, discardLogger())
	p.Publish(context.Background(), models.PortfolioSnapshot{}, nil, time.Now())
}
