package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/nfocore/optionengine/internal/clock"
	"github.com/nfocore/optionengine/internal/models"
	"github.com/nfocore/optionengine/internal/ratelimit"
)

// APIError wraps a non-2xx broker HTTP response, mirroring the teacher's
// APIError{Status, Body} shape in tradier.go.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker: status %d: %s", e.Status, e.Body)
}

// Config holds the REST client's tunables, named after spec §6's
// configuration table.
type Config struct {
	BaseURL              string
	APIKey               string
	CallsPerSecond       float64
	BurstLimit           int
	InstrumentCacheTTL   time.Duration
	QuoteCacheTTL        time.Duration
	MaxRetries           int
	CallTimeout          time.Duration
}

// DefaultConfig matches spec §6's defaults.
func DefaultConfig() Config {
	return Config{
		CallsPerSecond:     3,
		BurstLimit:         5,
		InstrumentCacheTTL: 30 * time.Minute,
		QuoteCacheTTL:      60 * time.Second,
		MaxRetries:         3,
		CallTimeout:        10 * time.Second,
	}
}

// Client is the REST implementation of Broker: it owns the rate limiter,
// the three caches (instrument/quote/negative), and an http.Client whose
// transport is github.com/hashicorp/go-retryablehttp's RoundTripper, which
// owns the transient-HTTP-layer retry/backoff mechanics (§4.A retry policy)
// instead of a hand-rolled retry loop.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	instCache  *instrumentCache
	quoteCache *quoteCache
	negCache   *negativeCache
	logger     *log.Logger
	clock      clock.Clock
}

// NewClient builds a Client. Passing a nil clock.Clock panics at
// construction per the teacher's fail-fast dependency-guard convention
// (orders.NewManager).
func NewClient(cfg Config, c clock.Clock, logger *log.Logger) *Client {
	if c == nil {
		panic("broker.NewClient: clock must not be nil")
	}
	if logger == nil {
		logger = log.Default()
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 10 * time.Second
	rc.Backoff = fullJitterBackoff
	rc.Logger = nil // engine-room logging goes through `logger`, not retryablehttp's own
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return isTransient(err), nil
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return true, nil
		}
		return false, nil
	}

	return &Client{
		cfg:        cfg,
		httpClient: rc.StandardClient(),
		limiter:    ratelimit.New(cfg.CallsPerSecond, cfg.BurstLimit),
		instCache:  newInstrumentCache(cfg.InstrumentCacheTTL, c),
		quoteCache: newQuoteCache(cfg.QuoteCacheTTL, c),
		negCache:   newNegativeCache(),
		logger:     logger,
		clock:      c,
	}
}

// call serialises through the rate limiter, applies the per-call hard
// timeout independently of the circuit breaker, and issues the HTTP
// request.
func (c *Client) call(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, ErrCancelled
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("broker: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("broker: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, ErrAuthFailed
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &APIError{Status: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}

func decodeJSON[T any](resp *http.Response) (T, error) {
	var v T
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		var zero T
		return zero, fmt.Errorf("broker: decode response: %w", err)
	}
	return v, nil
}

func (c *Client) GetInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	key := string(exchange)
	if list, ok := c.instCache.get(key); ok {
		return list, nil
	}
	resp, err := c.call(ctx, http.MethodGet, "/instruments?exchange="+string(exchange), nil)
	if err != nil {
		return nil, err
	}
	list, err := decodeJSON[[]models.Instrument](resp)
	if err != nil {
		return nil, err
	}
	c.instCache.set(key, list)
	return list, nil
}

// GetCombinedDerivativeInstruments fetches NFO and BFO instrument lists and
// caches the concatenation under a composite key so a lookup spanning both
// segments pays one cache fill, not two fetches, per spec §4.A.
func (c *Client) GetCombinedDerivativeInstruments(ctx context.Context) ([]models.Instrument, error) {
	const compositeKey = "NFO+BFO"
	if list, ok := c.instCache.get(compositeKey); ok {
		return list, nil
	}
	nfo, err := c.GetInstruments(ctx, models.ExchangeNFO)
	if err != nil {
		return nil, err
	}
	bfo, err := c.GetInstruments(ctx, models.ExchangeBFO)
	if err != nil {
		return nil, err
	}
	combined := make([]models.Instrument, 0, len(nfo)+len(bfo))
	combined = append(combined, nfo...)
	combined = append(combined, bfo...)
	c.instCache.set(compositeKey, combined)
	return combined, nil
}

func (c *Client) GetQuote(ctx context.Context, symbols []models.Symbol) (map[models.Symbol]Quote, error) {
	result := make(map[models.Symbol]Quote, len(symbols))
	var toFetch []models.Symbol
	for _, s := range symbols {
		if q, ok := c.quoteCache.get(s); ok {
			result[s] = q
			continue
		}
		toFetch = append(toFetch, s)
	}
	if len(toFetch) == 0 {
		return result, nil
	}

	resp, err := c.call(ctx, http.MethodPost, "/quote", map[string]any{"symbols": toFetch})
	if err != nil {
		return nil, err
	}
	fetched, err := decodeJSON[map[string]Quote](resp)
	if err != nil {
		return nil, err
	}
	for _, s := range toFetch {
		if q, ok := fetched[s.String()]; ok {
			q.Symbol = s
			c.quoteCache.set(s, q)
			result[s] = q
		} else if c.negCache.recordMiss(s) {
			c.logger.Printf("broker: no quote resolved for symbol=%s", s)
		}
	}
	return result, nil
}

func (c *Client) GetHistoricalCandles(ctx context.Context, token int64, interval time.Duration, from, to time.Time) ([]Candle, error) {
	path := fmt.Sprintf("/historical?token=%d&interval=%s&from=%s&to=%s",
		token, interval, from.Format(time.RFC3339), to.Format(time.RFC3339))
	resp, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]Candle](resp)
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	resp, err := c.call(ctx, http.MethodPost, "/orders", req)
	if err != nil {
		return OrderAck{}, err
	}
	ack, err := decodeJSON[OrderAck](resp)
	if err != nil {
		return OrderAck{}, err
	}
	if ack.Status == "rejected" {
		return ack, ErrOrderRejected
	}
	return ack, nil
}

func (c *Client) GetOrders(ctx context.Context) ([]OrderAck, error) {
	resp, err := c.call(ctx, http.MethodGet, "/orders", nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]OrderAck](resp)
}

func (c *Client) GetPositions(ctx context.Context) ([]models.Position, error) {
	resp, err := c.call(ctx, http.MethodGet, "/positions", nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]models.Position](resp)
}

func (c *Client) GetOrderMargins(ctx context.Context, req OrderRequest) (MarginEstimate, error) {
	resp, err := c.call(ctx, http.MethodPost, "/order_margins", req)
	if err != nil {
		return MarginEstimate{}, err
	}
	return decodeJSON[MarginEstimate](resp)
}
