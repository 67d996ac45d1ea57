package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/nfocore/optionengine/internal/models"
)

// PublisherConfig configures the outbound sink POST, per spec §6's
// dashboard sink contract.
type PublisherConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// positionUpdate is one entry of the sink body's positions array.
type positionUpdate struct {
	Symbol        string       `json:"symbol"`
	Shares        int          `json:"shares"`
	EntryPrice    models.Money `json:"entry_price"`
	CurrentPrice  models.Money `json:"current_price"`
	UnrealisedPnL models.Money `json:"unrealised_pnl"`
}

// cumulativeUpdate is the sink body's cumulative block.
type cumulativeUpdate struct {
	TotalTrades int          `json:"total_trades"`
	WinRate     float64      `json:"win_rate"`
	TotalPnL    models.Money `json:"total_pnl"`
}

// sinkPayload is the full POST body spec §6 names.
type sinkPayload struct {
	Mode          models.Mode       `json:"mode"`
	TimestampIST  string            `json:"timestamp_iso8601_ist"`
	Cash          models.Money      `json:"cash"`
	Positions     []positionUpdate  `json:"positions"`
	RecentTrades  []models.Trade    `json:"recent_trades"`
	Cumulative    cumulativeUpdate  `json:"cumulative"`
}

// Publisher posts snapshots to an external dashboard sink. It is
// best-effort: a failing sink trips a local circuit breaker and never
// affects trading, per spec §6.
type Publisher struct {
	cfg     PublisherConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewPublisher constructs a Publisher. A nil logger panics at construction.
func NewPublisher(cfg PublisherConfig, logger *logrus.Logger) *Publisher {
	if logger == nil {
		panic("dashboard.NewPublisher: logger must not be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dashboard-sink",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     300 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures == counts.Requests
		},
	})
	return &Publisher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Publish sends snap and current prices to the configured sink. Errors are
// logged, not returned as fatal: the caller (the scheduler's iteration
// loop) must never block trading on a sink failure.
func (p *Publisher) Publish(ctx context.Context, snap models.PortfolioSnapshot, priceMap map[models.Symbol]models.Money, now time.Time) {
	if p.cfg.BaseURL == "" {
		return
	}

	positions := make([]positionUpdate, 0, len(snap.Positions))
	for sym, pos := range snap.Positions {
		price := priceMap[sym]
		positions = append(positions, positionUpdate{
			Symbol:        sym.String(),
			Shares:        pos.Shares,
			EntryPrice:    pos.EntryPrice,
			CurrentPrice:  price,
			UnrealisedPnL: pos.UnrealisedPnL(price),
		})
	}

	payload := sinkPayload{
		Mode:         snap.Mode,
		TimestampIST: now.In(models.IST).Format(time.RFC3339),
		Cash:         snap.Cash,
		Positions:    positions,
		RecentTrades: snap.RecentTrades,
		Cumulative: cumulativeUpdate{
			TotalTrades: snap.Stats.TotalTrades,
			WinRate:     snap.Stats.WinRate(),
			TotalPnL:    snap.Stats.TotalPnLCumulative,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.WithError(err).Warn("dashboard: failed to marshal sink payload")
		return
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.post(ctx, body)
	})
	if err != nil {
		p.logger.WithError(err).Warn("dashboard: sink publish failed")
	}
}

func (p *Publisher) post(ctx context.Context, body []byte) error {
	url := fmt.Sprintf("%s/api/update", p.cfg.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dashboard: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("dashboard: post sink: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("dashboard: sink returned status %d", resp.StatusCode)
	}
	return nil
}
