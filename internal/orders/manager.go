// Package orders submits orders to the broker and polls them to a terminal
// state, reconciling the result into the portfolio ledger.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nfocore/optionengine/internal/broker"
	"github.com/nfocore/optionengine/internal/portfolio"
)

// Config contains configuration for the order manager.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	CallTimeout  time.Duration
}

// DefaultConfig is the default configuration for the order manager.
var DefaultConfig = Config{
	PollInterval: 5 * time.Second,
	Timeout:      2 * time.Minute,
	CallTimeout:  5 * time.Second,
}

// Manager submits orders and polls them to fill/fail/timeout, booking the
// outcome into the ledger.
type Manager struct {
	broker  broker.Broker
	ledger  *portfolio.Ledger
	log     *logrus.Logger
	config  Config
}

// NewManager constructs a Manager. A nil broker or ledger panics at
// construction, matching the module's fail-fast dependency-guard
// convention.
func NewManager(b broker.Broker, ledger *portfolio.Ledger, log *logrus.Logger, config ...Config) *Manager {
	if b == nil {
		panic("orders.NewManager: broker must not be nil")
	}
	if ledger == nil {
		panic("orders.NewManager: ledger must not be nil")
	}
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}
	if log == nil {
		log = logrus.New()
	}
	return &Manager{broker: b, ledger: ledger, log: log, config: cfg}
}

// terminalFailed lists the order states that end an order without a fill.
var terminalFailed = map[string]bool{
	"canceled": true, "cancelled": true, "rejected": true, "expired": true,
}

// Submit places req and polls it to a terminal state. On fill it books the
// trade into the ledger via bookFill (a Buy or Sell closure supplied by the
// caller, since only the caller knows which side of the ledger this order
// represents and what OrderContext to stamp it with). Submit blocks until
// the order reaches a terminal state or the configured timeout elapses.
func (m *Manager) Submit(ctx context.Context, req broker.OrderRequest, bookFill func(ack broker.OrderAck) error) error {
	ack, err := m.broker.PlaceOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("orders: place order: %w", err)
	}

	if strings.EqualFold(ack.Status, "filled") {
		return bookFill(ack)
	}

	pollCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			m.log.WithField("order_id", ack.OrderID).Warn("orders: poll timed out, reconciling against broker positions")
			return m.reconcileTimeout(ctx, req, ack, bookFill)
		case <-ticker.C:
			statusCtx, statusCancel := context.WithTimeout(pollCtx, m.config.CallTimeout)
			orders, err := m.broker.GetOrders(statusCtx)
			statusCancel()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				m.log.WithError(err).WithField("order_id", ack.OrderID).Warn("orders: status check failed")
				continue
			}
			current, found := findOrder(orders, ack.OrderID)
			if !found {
				continue
			}
			status := strings.ToLower(current.Status)
			switch {
			case status == "filled":
				return bookFill(current)
			case terminalFailed[status]:
				return fmt.Errorf("orders: order %s terminated with status %q", ack.OrderID, current.Status)
			default:
				continue
			}
		}
	}
}

func findOrder(orders []broker.OrderAck, orderID string) (broker.OrderAck, bool) {
	for _, o := range orders {
		if o.OrderID == orderID {
			return o, true
		}
	}
	return broker.OrderAck{}, false
}

// reconcileTimeout checks whether the order actually filled despite the
// polling timeout (broker reachable again after a transient blip) before
// giving up, mirroring the teacher's "verify broker state before closing"
// guard against mistakenly abandoning a position that in fact opened.
func (m *Manager) reconcileTimeout(ctx context.Context, req broker.OrderRequest, ack broker.OrderAck, bookFill func(broker.OrderAck) error) error {
	positions, err := m.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("orders: poll timeout and reconciliation failed: %w", err)
	}
	for _, pos := range positions {
		if pos.Symbol == req.Symbol && pos.AbsShares() >= req.Quantity {
			m.log.WithField("symbol", req.Symbol.String()).Info("orders: timed-out order in fact filled, recovering")
			ack.Status = "filled"
			if ack.FillPrice == 0 {
				ack.FillPrice = pos.EntryPrice
			}
			return bookFill(ack)
		}
	}
	return fmt.Errorf("orders: order %s timed out and broker shows no matching position", ack.OrderID)
}

// IsOrderTerminal reports whether an order has reached a terminal state.
func (m *Manager) IsOrderTerminal(ctx context.Context, orderID string) (bool, error) {
	statusCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()
	orders, err := m.broker.GetOrders(statusCtx)
	if err != nil {
		return false, fmt.Errorf("orders: get orders: %w", err)
	}
	order, found := findOrder(orders, orderID)
	if !found {
		return false, nil
	}
	status := strings.ToLower(order.Status)
	return status == "filled" || terminalFailed[status], nil
}
