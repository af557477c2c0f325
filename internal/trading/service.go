// Package trading is the application service behind the JSON API: it owns
// the broker session, classifies positions, shapes option chains (with a
// short TTL cache), places sell orders, and squares off positions one at a
// time or in bulk.
package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arjunvk/breeze-trader/internal/broker"
	"github.com/arjunvk/breeze-trader/internal/cache"
	"github.com/arjunvk/breeze-trader/internal/chain"
	"github.com/arjunvk/breeze-trader/internal/config"
	"github.com/arjunvk/breeze-trader/internal/journal"
	"github.com/arjunvk/breeze-trader/internal/models"
)

// ErrAmbiguousPosition is returned when a square-off targets a position
// whose side could not be classified from any signal. The caller must
// explicitly override to act on the defaulted side.
var ErrAmbiguousPosition = errors.New("position side is ambiguous; refusing to square off without override")

// Options configures a Service.
type Options struct {
	ChainTTL          time.Duration
	FundsTTL          time.Duration
	StaleSessionAfter time.Duration
}

// Service coordinates broker calls, classification, caching, and the
// session journal. All entry points are synchronous: one user action, one
// call, no background work.
type Service struct {
	broker  broker.Broker
	log     *logrus.Logger
	journal *journal.Journal

	chainCache *cache.Cache[string, chain.Table]
	fundsCache *cache.Cache[string, broker.FundsRecord]

	staleAfter time.Duration
	now        func() time.Time

	mu        sync.Mutex
	loginTime time.Time
}

// NewService wires a Service around a broker.
func NewService(b broker.Broker, log *logrus.Logger, opts Options) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.ChainTTL <= 0 {
		opts.ChainTTL = 30 * time.Second
	}
	if opts.FundsTTL <= 0 {
		opts.FundsTTL = 60 * time.Second
	}
	if opts.StaleSessionAfter <= 0 {
		opts.StaleSessionAfter = 8 * time.Hour
	}
	return &Service{
		broker:     b,
		log:        log,
		journal:    journal.New(),
		chainCache: cache.New[string, chain.Table](opts.ChainTTL),
		fundsCache: cache.New[string, broker.FundsRecord](opts.FundsTTL),
		staleAfter: opts.StaleSessionAfter,
		now:        time.Now,
	}
}

// Journal exposes the session journal for display.
func (s *Service) Journal() *journal.Journal {
	return s.journal
}

// Connect authenticates with the user's daily session token and records
// the login time for staleness checks.
func (s *Service) Connect(ctx context.Context, dailySessionToken string) error {
	if err := s.broker.Authenticate(ctx, dailySessionToken); err != nil {
		s.journal.LogConnection("connect failed: " + err.Error())
		return err
	}
	s.mu.Lock()
	s.loginTime = s.now()
	s.mu.Unlock()
	s.journal.LogConnection("connected")
	s.log.Info("broker session established")
	return nil
}

// Disconnect clears cached data and records the event. The broker session
// itself simply ages out upstream.
func (s *Service) Disconnect() {
	s.mu.Lock()
	s.loginTime = time.Time{}
	s.mu.Unlock()
	s.chainCache.Clear()
	s.fundsCache.Clear()
	s.journal.LogConnection("disconnected")
}

// SessionStatus describes the broker session for display.
type SessionStatus struct {
	Authenticated bool      `json:"authenticated"`
	LoginTime     time.Time `json:"login_time,omitzero"`
	// Stale is true once the token is old enough that ICICI has likely
	// expired it (tokens reset daily).
	Stale bool `json:"stale"`
}

// Status reports the current session state.
func (s *Service) Status() SessionStatus {
	s.mu.Lock()
	loginTime := s.loginTime
	s.mu.Unlock()

	authed := s.broker.IsAuthenticated()
	return SessionStatus{
		Authenticated: authed,
		LoginTime:     loginTime,
		Stale:         authed && (loginTime.IsZero() || s.now().Sub(loginTime) > s.staleAfter),
	}
}

// Positions fetches the open book and classifies every record. Ambiguous
// classifications are logged and surfaced on the returned positions, never
// dropped.
func (s *Service) Positions(ctx context.Context) ([]models.ClassifiedPosition, error) {
	records, err := s.broker.GetPortfolioPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}

	positions := make([]models.ClassifiedPosition, 0, len(records))
	for _, rec := range records {
		pos := models.Classify(rec)
		if pos.Ambiguous {
			s.log.WithFields(logrus.Fields{
				"stock_code": pos.StockCode,
				"strike":     pos.Strike,
				"right":      pos.Right,
			}).Warn("no side signal on position; defaulted to long")
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// TotalPnL sums the signed P&L across positions.
func TotalPnL(positions []models.ClassifiedPosition) float64 {
	var total float64
	for i := range positions {
		total += positions[i].PnL
	}
	return total
}

// OptionChain returns the shaped chain for an instrument and expiry,
// serving from the TTL cache unless refresh forces a fetch. Both rights
// are fetched since the endpoint does not answer for both at once.
func (s *Service) OptionChain(ctx context.Context, instrumentName string, expiry time.Time, refresh bool) (chain.Table, error) {
	inst, err := config.LookupInstrument(instrumentName)
	if err != nil {
		return chain.Table{}, err
	}

	key := inst.Name + "|" + expiry.Format("2006-01-02")
	if !refresh {
		if table, ok := s.chainCache.Get(key); ok {
			return table, nil
		}
	}

	records, err := s.broker.GetOptionChainBothSides(ctx, inst.StockCode, inst.Exchange, expiry)
	if err != nil {
		return chain.Table{}, fmt.Errorf("fetching option chain: %w", err)
	}
	table := chain.FromRecords(records)
	s.chainCache.Put(key, table)
	return table, nil
}

// Quote fetches a realtime quote for one contract.
func (s *Service) Quote(ctx context.Context, instrumentName string, expiry time.Time, strike int, right string) (*broker.QuoteRecord, error) {
	inst, err := config.LookupInstrument(instrumentName)
	if err != nil {
		return nil, err
	}
	return s.broker.GetQuote(ctx, inst.StockCode, inst.Exchange, expiry, strike, right)
}

// Funds returns available funds, cached for a short window.
func (s *Service) Funds(ctx context.Context, refresh bool) (*broker.FundsRecord, error) {
	const key = "funds"
	if !refresh {
		if funds, ok := s.fundsCache.Get(key); ok {
			return &funds, nil
		}
	}
	funds, err := s.broker.GetFunds(ctx)
	if err != nil {
		return nil, err
	}
	s.fundsCache.Put(key, *funds)
	return funds, nil
}

// SellRequest describes a sell-to-open order in lots.
type SellRequest struct {
	Instrument string
	Expiry     time.Time
	Strike     int
	Right      string // call | put
	Lots       int
	OrderType  string // market | limit
	LimitPrice float64
}

// Sell places a sell order for the given number of lots, translating lots
// into contract quantity via the instrument's lot size.
func (s *Service) Sell(ctx context.Context, req SellRequest) (*broker.OrderAck, error) {
	inst, err := config.LookupInstrument(req.Instrument)
	if err != nil {
		return nil, err
	}
	if req.Lots <= 0 {
		return nil, fmt.Errorf("invalid lots %d: must be > 0", req.Lots)
	}

	return s.placeOrder(ctx, broker.OrderRequest{
		StockCode:    inst.StockCode,
		ExchangeCode: inst.Exchange,
		Expiry:       req.Expiry,
		Strike:       req.Strike,
		Right:        req.Right,
		Action:       broker.ActionSell,
		Quantity:     req.Lots * inst.LotSize,
		OrderType:    req.OrderType,
		LimitPrice:   req.LimitPrice,
	})
}

// SellCall is a convenience wrapper for selling calls.
func (s *Service) SellCall(ctx context.Context, req SellRequest) (*broker.OrderAck, error) {
	req.Right = broker.RightCall
	return s.Sell(ctx, req)
}

// SellPut is a convenience wrapper for selling puts.
func (s *Service) SellPut(ctx context.Context, req SellRequest) (*broker.OrderAck, error) {
	req.Right = broker.RightPut
	return s.Sell(ctx, req)
}

// MarginRequired reports the margin a prospective sell would need.
// Advisory only; nothing blocks placement on it.
func (s *Service) MarginRequired(ctx context.Context, req SellRequest) (*broker.MarginRecord, error) {
	inst, err := config.LookupInstrument(req.Instrument)
	if err != nil {
		return nil, err
	}
	return s.broker.GetMarginRequired(ctx, broker.OrderRequest{
		StockCode:    inst.StockCode,
		ExchangeCode: inst.Exchange,
		Expiry:       req.Expiry,
		Strike:       req.Strike,
		Right:        req.Right,
		Action:       broker.ActionSell,
		Quantity:     req.Lots * inst.LotSize,
	})
}

// SquareOff flattens one position with a market order in the direction its
// classification dictates. Ambiguous positions are refused unless override
// is set, since the default side is a guess.
func (s *Service) SquareOff(ctx context.Context, pos models.ClassifiedPosition, override bool) (*broker.OrderAck, error) {
	if pos.Ambiguous && !override {
		return nil, fmt.Errorf("%s %d %s: %w", pos.StockCode, pos.Strike, pos.Right, ErrAmbiguousPosition)
	}
	if pos.Quantity <= 0 {
		return nil, fmt.Errorf("position %s has no open quantity", pos.Key())
	}

	ack, err := s.placeOrder(ctx, broker.OrderRequest{
		StockCode:    pos.StockCode,
		ExchangeCode: pos.ExchangeCode,
		Expiry:       pos.Expiry,
		Strike:       pos.Strike,
		Right:        pos.Right,
		Action:       pos.CloseAction,
		Quantity:     pos.Quantity,
		OrderType:    broker.OrderTypeMarket,
	})
	if err != nil {
		return nil, err
	}

	s.journal.LogTrade(journal.TradeEntry{
		OrderID:   ack.OrderID,
		StockCode: pos.StockCode,
		Strike:    pos.Strike,
		Right:     pos.Right,
		Action:    pos.CloseAction,
		Quantity:  pos.Quantity,
		PnL:       pos.PnL,
	})
	return ack, nil
}

// SquareOffItem is one position's outcome within a bulk square-off.
type SquareOffItem struct {
	Key     string `json:"key"`
	OrderID string `json:"order_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SquareOffReport aggregates a bulk square-off. The operation always runs
// to completion; per-position failures are collected, never fatal.
type SquareOffReport struct {
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Items     []SquareOffItem `json:"items"`
}

// SquareOffAll closes every open position sequentially: one order per
// position, no parallelism, no retries, no abort on failure.
func (s *Service) SquareOffAll(ctx context.Context, override bool) (SquareOffReport, error) {
	positions, err := s.Positions(ctx)
	if err != nil {
		return SquareOffReport{}, err
	}

	report := SquareOffReport{Total: len(positions)}
	for _, pos := range positions {
		item := SquareOffItem{Key: pos.Key()}
		ack, err := s.SquareOff(ctx, pos, override)
		if err != nil {
			item.Error = err.Error()
			report.Failed++
			s.log.WithError(err).WithField("position", pos.Key()).Warn("square-off failed")
		} else {
			item.OrderID = ack.OrderID
			report.Succeeded++
		}
		report.Items = append(report.Items, item)
	}

	s.log.WithFields(logrus.Fields{
		"total":     report.Total,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	}).Info("bulk square-off complete")
	return report, nil
}

// Orders lists orders placed today (or in the given window) on an exchange.
func (s *Service) Orders(ctx context.Context, exchangeCode string, from, to time.Time) ([]broker.OrderRecord, error) {
	return s.broker.GetOrderList(ctx, exchangeCode, from, to)
}

// CancelOrder cancels an open order.
func (s *Service) CancelOrder(ctx context.Context, orderID, exchangeCode string) error {
	return s.broker.CancelOrder(ctx, orderID, exchangeCode)
}

// ModifyOrder updates an open order's quantity and/or price.
func (s *Service) ModifyOrder(ctx context.Context, orderID, exchangeCode string, quantity int, price float64) error {
	return s.broker.ModifyOrder(ctx, orderID, exchangeCode, quantity, price)
}

// placeOrder submits the order and journals the attempt, success or not.
func (s *Service) placeOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderAck, error) {
	ref := uuid.NewString()
	if req.UserRemark == "" {
		req.UserRemark = ref
	}

	entry := journal.OrderEntry{
		Ref:        ref,
		StockCode:  req.StockCode,
		Strike:     req.Strike,
		Right:      req.Right,
		Action:     req.Action,
		Quantity:   req.Quantity,
		OrderType:  req.OrderType,
		LimitPrice: req.LimitPrice,
	}

	ack, err := s.broker.PlaceOrder(ctx, req)
	if err != nil {
		entry.Err = err.Error()
		s.journal.LogOrder(entry)
		return nil, err
	}

	entry.OrderID = ack.OrderID
	s.journal.LogOrder(entry)
	s.log.WithFields(logrus.Fields{
		"order_id":   ack.OrderID,
		"stock_code": req.StockCode,
		"strike":     req.Strike,
		"right":      req.Right,
		"action":     req.Action,
		"quantity":   req.Quantity,
	}).Info("order placed")
	return ack, nil
}
