package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunvk/breeze-trader/internal/broker"
	"github.com/arjunvk/breeze-trader/internal/trading"
)

// stubBroker serves canned data so handler plumbing can be exercised
// without a network.
type stubBroker struct {
	positions []broker.PositionRecord
	placed    int
}

func (s *stubBroker) Authenticate(context.Context, string) error { return nil }

func (s *stubBroker) IsAuthenticated() bool { return true }

func (s *stubBroker) GetCustomerDetails(context.Context) (*broker.CustomerDetails, error) {
	return &broker.CustomerDetails{}, nil
}

func (s *stubBroker) GetFunds(context.Context) (*broker.FundsRecord, error) {
	return &broker.FundsRecord{AvailableMargin: 100000}, nil
}

func (s *stubBroker) GetPortfolioPositions(context.Context) ([]broker.PositionRecord, error) {
	return s.positions, nil
}

func (s *stubBroker) GetOptionChain(context.Context, string, string, time.Time, string) ([]broker.OptionChainRecord, error) {
	return nil, nil
}

func (s *stubBroker) GetOptionChainBothSides(context.Context, string, string, time.Time) ([]broker.OptionChainRecord, error) {
	return []broker.OptionChainRecord{
		{StrikePrice: 23500, Right: "Call", LTP: 100, OpenInterest: 100},
		{StrikePrice: 23500, Right: "Put", LTP: 105, OpenInterest: 150},
	}, nil
}

func (s *stubBroker) GetQuote(context.Context, string, string, time.Time, int, string) (*broker.QuoteRecord, error) {
	return &broker.QuoteRecord{LTP: 100}, nil
}

func (s *stubBroker) PlaceOrder(context.Context, broker.OrderRequest) (*broker.OrderAck, error) {
	s.placed++
	return &broker.OrderAck{OrderID: "ORD-1"}, nil
}

func (s *stubBroker) GetOrderList(context.Context, string, time.Time, time.Time) ([]broker.OrderRecord, error) {
	return []broker.OrderRecord{}, nil
}

func (s *stubBroker) CancelOrder(context.Context, string, string) error { return nil }

func (s *stubBroker) ModifyOrder(context.Context, string, string, int, float64) error { return nil }

func (s *stubBroker) GetMarginRequired(context.Context, broker.OrderRequest) (*broker.MarginRecord, error) {
	return &broker.MarginRecord{}, nil
}

var _ broker.Broker = (*stubBroker)(nil)

func newTestServer(t *testing.T, stub *stubBroker, authToken string) *Server {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	svc := trading.NewService(stub, log, trading.Options{})
	return NewServer(Config{Port: 0, AuthToken: authToken}, svc, log)
}

func TestHealth_BypassesAuth(t *testing.T) {
	srv := newTestServer(t, &stubBroker{}, "secret")

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	srv := newTestServer(t, &stubBroker{}, "secret")

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.Header.Set("X-Auth-Token", "secret")
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPositions_ReturnsClassifiedBook(t *testing.T) {
	stub := &stubBroker{positions: []broker.PositionRecord{{
		StockCode: "NIFTY", ExchangeCode: "NFO", ExpiryDate: "2025-02-06",
		Right: "call", StrikePrice: 23500, Action: "sell",
		Quantity: 50, AveragePrice: 100, LTP: 80,
	}}}
	srv := newTestServer(t, stub, "")

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Positions []struct {
			Side        string  `json:"side"`
			PnL         float64 `json:"pnl"`
			CloseAction string  `json:"close_action"`
			Ambiguous   bool    `json:"ambiguous"`
		} `json:"positions"`
		TotalPnL float64 `json:"total_pnl"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Positions, 1)
	assert.Equal(t, "short", body.Positions[0].Side)
	assert.Equal(t, 1000.0, body.Positions[0].PnL)
	assert.Equal(t, "buy", body.Positions[0].CloseAction)
	assert.Equal(t, 1000.0, body.TotalPnL)
}

func TestSquareOffAmbiguous_Conflict(t *testing.T) {
	// No side signals: classifier defaults long and flags ambiguous.
	stub := &stubBroker{positions: []broker.PositionRecord{{
		StockCode: "NIFTY", ExpiryDate: "2025-02-06", Right: "put",
		StrikePrice: 23500, Quantity: 50, AveragePrice: 100, LTP: 90,
	}}}
	srv := newTestServer(t, stub, "")

	key := "NIFTY|2025-02-06|23500|Put"
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/squareoff",
		strings.NewReader(`{"key": "`+key+`"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, stub.placed)

	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/squareoff",
		strings.NewReader(`{"key": "`+key+`", "override": true}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, stub.placed)
}

func TestSquareOffAll_ReportsCounts(t *testing.T) {
	stub := &stubBroker{positions: []broker.PositionRecord{
		{StockCode: "NIFTY", ExpiryDate: "2025-02-06", Right: "call", StrikePrice: 23500, Action: "sell", Quantity: 50},
		{StockCode: "NIFTY", ExpiryDate: "2025-02-06", Right: "put", StrikePrice: 23400, Action: "sell", Quantity: 50},
	}}
	srv := newTestServer(t, stub, "")

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/squareoff/all", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var report trading.SquareOffReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Zero(t, report.Failed)
}

func TestChain_AnalyticsShape(t *testing.T) {
	srv := newTestServer(t, &stubBroker{}, "")

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chain/NIFTY?expiry=2025-02-06", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Analytics struct {
			PCR       float64 `json:"pcr"`
			MaxPain   int     `json:"max_pain"`
			ATMStrike float64 `json:"atm_strike"`
		} `json:"analytics"`
		Pivot []json.RawMessage `json:"pivot"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1.5, body.Analytics.PCR)
	assert.Equal(t, 23500, body.Analytics.MaxPain)
	assert.Equal(t, 23500.0, body.Analytics.ATMStrike)
	assert.Len(t, body.Pivot, 1)
}

func TestChain_BadExpiry(t *testing.T) {
	srv := newTestServer(t, &stubBroker{}, "")

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chain/NIFTY?expiry=tomorrow", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExpiries_Endpoint(t *testing.T) {
	srv := newTestServer(t, &stubBroker{}, "")

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/instruments/NIFTY/expiries?count=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var expiries []struct {
		Date    string `json:"date"`
		Display string `json:"display"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &expiries))
	require.Len(t, expiries, 3)
	assert.NotEmpty(t, expiries[0].Date)
	assert.Contains(t, expiries[0].Display, "(")
}
