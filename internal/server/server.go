// Package server exposes the trading service as a JSON HTTP API. It is a
// thin presentation layer: handlers decode parameters, call the service,
// and encode plain data structures.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/arjunvk/breeze-trader/internal/broker"
	"github.com/arjunvk/breeze-trader/internal/config"
	"github.com/arjunvk/breeze-trader/internal/trading"
	"github.com/arjunvk/breeze-trader/internal/util"
)

// Config holds the server's listen settings.
type Config struct {
	Port      int
	AuthToken string
}

// Server is the JSON API server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	service   *trading.Service
	logger    *logrus.Logger
	port      int
	authToken string
}

// NewServer builds the router around a trading service.
func NewServer(cfg Config, service *trading.Service, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    chi.NewRouter(),
		service:   service,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/market", s.handleMarket)
	s.router.Get("/api/instruments", s.handleInstruments)
	s.router.Get("/api/instruments/{name}/expiries", s.handleExpiries)

	s.router.Post("/api/session", s.handleConnect)
	s.router.Delete("/api/session", s.handleDisconnect)
	s.router.Get("/api/session", s.handleSessionStatus)

	s.router.Get("/api/positions", s.handlePositions)
	s.router.Post("/api/squareoff", s.handleSquareOff)
	s.router.Post("/api/squareoff/all", s.handleSquareOffAll)

	s.router.Get("/api/chain/{name}", s.handleChain)
	s.router.Get("/api/quote/{name}", s.handleQuote)
	s.router.Get("/api/funds", s.handleFunds)
	s.router.Post("/api/margin", s.handleMargin)

	s.router.Post("/api/orders", s.handleSell)
	s.router.Get("/api/orders", s.handleOrders)
	s.router.Delete("/api/orders/{id}", s.handleCancelOrder)
	s.router.Put("/api/orders/{id}", s.handleModifyOrder)

	s.router.Get("/api/journal", s.handleJournal)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("Starting API server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleMarket(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"phase": util.MarketPhaseAt(now),
		"open":  util.IsMarketOpen(now),
		"time":  now.In(util.IST()).Format(time.RFC3339),
	})
}

func (s *Server) handleInstruments(w http.ResponseWriter, _ *http.Request) {
	names := config.InstrumentNames()
	out := make([]config.Instrument, 0, len(names))
	for _, name := range names {
		inst, _ := config.LookupInstrument(name)
		out = append(out, inst)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExpiries(w http.ResponseWriter, r *http.Request) {
	inst, err := config.LookupInstrument(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	count := intQuery(r, "count", 5)
	expiries := config.NextExpiries(inst, count, time.Now())
	type expiryView struct {
		Date    string `json:"date"`
		Display string `json:"display"`
	}
	out := make([]expiryView, 0, len(expiries))
	for _, e := range expiries {
		out = append(out, expiryView{
			Date:    e.Format("2006-01-02"),
			Display: util.FormatExpiry(e),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding body: %w", err))
		return
	}
	if err := s.service.Connect(r.Context(), body.SessionToken); err != nil {
		s.writeBrokerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.service.Status())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.service.Disconnect()
	s.writeJSON(w, http.StatusOK, s.service.Status())
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Status())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.service.Positions(r.Context())
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	totalPnL := trading.TotalPnL(positions)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions":         positions,
		"total_pnl":         totalPnL,
		"total_pnl_display": util.FormatINR(totalPnL),
	})
}

func (s *Server) handleSquareOff(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key      string `json:"key"`
		Override bool   `json:"override"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding body: %w", err))
		return
	}

	positions, err := s.service.Positions(r.Context())
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	for _, pos := range positions {
		if pos.Key() != body.Key {
			continue
		}
		ack, err := s.service.SquareOff(r.Context(), pos, body.Override)
		if err != nil {
			if errors.Is(err, trading.ErrAmbiguousPosition) {
				s.writeError(w, http.StatusConflict, err)
				return
			}
			s.writeBrokerError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, ack)
		return
	}
	s.writeError(w, http.StatusNotFound, fmt.Errorf("no open position with key %q", body.Key))
}

func (s *Server) handleSquareOffAll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Override bool `json:"override"`
	}
	// Empty body means no override.
	_ = json.NewDecoder(r.Body).Decode(&body)

	report, err := s.service.SquareOffAll(r.Context(), body.Override)
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	expiry, err := expiryQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	refresh := r.URL.Query().Get("refresh") == "true"

	table, err := s.service.OptionChain(r.Context(), chi.URLParam(r, "name"), expiry, refresh)
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rows":      table.Rows,
		"pivot":     table.Pivot(),
		"analytics": table.Summarize(),
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	expiry, err := expiryQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	strike := intQuery(r, "strike", 0)
	right := r.URL.Query().Get("right")

	quote, err := s.service.Quote(r.Context(), chi.URLParam(r, "name"), expiry, strike, right)
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleFunds(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"
	funds, err := s.service.Funds(r.Context(), refresh)
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, funds)
}

type sellBody struct {
	Instrument string  `json:"instrument"`
	Expiry     string  `json:"expiry"` // YYYY-MM-DD
	Strike     int     `json:"strike"`
	Right      string  `json:"right"`
	Lots       int     `json:"lots"`
	OrderType  string  `json:"order_type"`
	LimitPrice float64 `json:"limit_price"`
}

func (b sellBody) toRequest() (trading.SellRequest, error) {
	expiry, err := time.Parse("2006-01-02", b.Expiry)
	if err != nil {
		return trading.SellRequest{}, fmt.Errorf("invalid expiry %q: want YYYY-MM-DD", b.Expiry)
	}
	return trading.SellRequest{
		Instrument: b.Instrument,
		Expiry:     expiry,
		Strike:     b.Strike,
		Right:      b.Right,
		Lots:       b.Lots,
		OrderType:  b.OrderType,
		LimitPrice: b.LimitPrice,
	}, nil
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var body sellBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding body: %w", err))
		return
	}
	req, err := body.toRequest()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ack, err := s.service.Sell(r.Context(), req)
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handleMargin(w http.ResponseWriter, r *http.Request) {
	var body sellBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding body: %w", err))
		return
	}
	req, err := body.toRequest()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	margin, err := s.service.MarginRequired(r.Context(), req)
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, margin)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	exchange := r.URL.Query().Get("exchange")
	if exchange == "" {
		exchange = "NFO"
	}

	// Default window: today in IST.
	now := time.Now().In(util.IST())
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, util.IST())
	to := from.AddDate(0, 0, 1)
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, util.IST())
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid from %q: want YYYY-MM-DD", v))
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, util.IST())
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid to %q: want YYYY-MM-DD", v))
			return
		}
		to = parsed.AddDate(0, 0, 1)
	}

	orders, err := s.service.Orders(r.Context(), exchange, from, to)
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	exchange := r.URL.Query().Get("exchange")
	if exchange == "" {
		exchange = "NFO"
	}
	if err := s.service.CancelOrder(r.Context(), chi.URLParam(r, "id"), exchange); err != nil {
		s.writeBrokerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Exchange string  `json:"exchange"`
		Quantity int     `json:"quantity"`
		Price    float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding body: %w", err))
		return
	}
	if body.Exchange == "" {
		body.Exchange = "NFO"
	}
	if err := s.service.ModifyOrder(r.Context(), chi.URLParam(r, "id"), body.Exchange, body.Quantity, body.Price); err != nil {
		s.writeBrokerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "modified"})
}

func (s *Server) handleJournal(w http.ResponseWriter, _ *http.Request) {
	j := s.service.Journal()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders":      j.Orders(),
		"trades":      j.Trades(),
		"connections": j.Connections(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeBrokerError maps broker error kinds onto HTTP statuses so clients
// can distinguish an expired session from a rejected order.
func (s *Server) writeBrokerError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch broker.KindOf(err) {
	case broker.KindAuth:
		status = http.StatusUnauthorized
	case broker.KindNetwork:
		status = http.StatusBadGateway
	case broker.KindRejected:
		status = http.StatusUnprocessableEntity
	case broker.KindMalformed:
		status = http.StatusBadGateway
	}
	s.writeError(w, status, err)
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func expiryQuery(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("expiry")
	expiry, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry %q: want YYYY-MM-DD", v)
	}
	return expiry, nil
}
