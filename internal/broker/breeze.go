// Package broker provides the ICICI Direct Breeze API client used for
// manual index-options trading: session handling, portfolio positions,
// option chains, and order management.
package broker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultBaseURL = "https://api.icicidirect.com/breezeapi/api/v1"

// Date layouts the API insists on. Market-data and order-placement
// endpoints take day-abbreviated-month-year; the order-list endpoint
// takes a full ISO-8601 timestamp. Callers pass time.Time and the client
// translates.
const (
	marketDateLayout   = "02-Jan-2006"
	isoTimestampLayout = "2006-01-02T15:04:05.000Z"
)

// Option rights and order sides accepted by the API.
const (
	RightCall = "call"
	RightPut  = "put"

	ActionBuy  = "buy"
	ActionSell = "sell"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// BreezeAPI is a direct HTTP client for the Breeze REST API. Session
// tokens are short-lived (reset daily), so Authenticate must be called
// with a fresh token before trading each day.
type BreezeAPI struct {
	client       *http.Client
	appKey       string
	secret       string
	baseURL      string
	sessionToken string
	timeout      time.Duration
}

// NewBreezeAPI creates a client with default endpoint and timeout.
func NewBreezeAPI(appKey, secret string) *BreezeAPI {
	return NewBreezeAPIWithBaseURL(appKey, secret, "")
}

// NewBreezeAPIWithBaseURL creates a client against a custom endpoint
// (tests point this at an httptest server).
func NewBreezeAPIWithBaseURL(appKey, secret, baseURL string) *BreezeAPI {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	const defaultTimeout = 10 * time.Second
	return &BreezeAPI{
		client:  &http.Client{Timeout: defaultTimeout},
		appKey:  appKey,
		secret:  secret,
		baseURL: baseURL,
		timeout: defaultTimeout,
	}
}

// WithHTTPClient overrides the HTTP client (tests, custom transport).
func (b *BreezeAPI) WithHTTPClient(c *http.Client) *BreezeAPI {
	if c != nil {
		b.client = c
	}
	return b
}

// WithTimeout sets the HTTP client timeout.
func (b *BreezeAPI) WithTimeout(timeout time.Duration) *BreezeAPI {
	b.timeout = timeout
	if b.client != nil {
		b.client.Timeout = timeout
	}
	return b
}

// Authenticate exchanges the user-supplied daily session token for an
// API session. It must succeed before any other call; auth failures are
// surfaced as KindAuth errors and are never retried automatically.
func (b *BreezeAPI) Authenticate(ctx context.Context, dailySessionToken string) error {
	if dailySessionToken == "" {
		return &Error{Kind: KindAuth, Message: "session token is required (generate a fresh one from the ICICI Direct API portal)"}
	}

	payload := map[string]string{
		"SessionToken": dailySessionToken,
		"AppKey":       b.appKey,
	}
	raw, err := b.request(ctx, http.MethodGet, "customerdetails", payload, false)
	if err != nil {
		var be *Error
		// A 500 from this endpoint almost always means a stale token.
		if ok := asBrokerError(err, &be); ok && be.Kind == KindNetwork {
			return &Error{Kind: KindAuth, Status: be.Status, Message: "session rejected: " + be.Message}
		}
		return err
	}

	res := Normalize[CustomerDetails](raw)
	if !res.OK || res.First().SessionToken == "" {
		return &Error{Kind: KindAuth, Message: "authentication failed: " + res.Message}
	}
	b.sessionToken = res.First().SessionToken
	return nil
}

// IsAuthenticated reports whether a session token has been established.
func (b *BreezeAPI) IsAuthenticated() bool {
	return b.sessionToken != ""
}

// GetCustomerDetails retrieves the authenticated user's profile.
func (b *BreezeAPI) GetCustomerDetails(ctx context.Context) (*CustomerDetails, error) {
	raw, err := b.request(ctx, http.MethodGet, "customerdetails", map[string]string{
		"SessionToken": b.sessionToken,
		"AppKey":       b.appKey,
	}, false)
	if err != nil {
		return nil, err
	}
	res := Normalize[CustomerDetails](raw)
	if !res.OK {
		return nil, &Error{Kind: KindRejected, Message: res.Message}
	}
	first := res.First()
	return &first, nil
}

// GetFunds retrieves available funds and margin allocations.
func (b *BreezeAPI) GetFunds(ctx context.Context) (*FundsRecord, error) {
	raw, err := b.request(ctx, http.MethodGet, "funds", map[string]string{}, true)
	if err != nil {
		return nil, err
	}
	res := Normalize[FundsRecord](raw)
	if !res.OK {
		return nil, &Error{Kind: KindRejected, Message: res.Message}
	}
	first := res.First()
	return &first, nil
}

// GetPortfolioPositions retrieves all open positions in the account.
// An empty book is a valid result, not an error.
func (b *BreezeAPI) GetPortfolioPositions(ctx context.Context) ([]PositionRecord, error) {
	raw, err := b.request(ctx, http.MethodGet, "portfoliopositions", map[string]string{}, true)
	if err != nil {
		return nil, err
	}
	res := Normalize[PositionRecord](raw)
	if !res.OK {
		return nil, &Error{Kind: KindRejected, Message: res.Message}
	}
	return res.Records, nil
}

// GetOptionChain retrieves one side (call or put) of an option chain.
// The endpoint does not uniformly support querying both rights at once,
// so a full chain is two calls; see GetOptionChainBothSides.
func (b *BreezeAPI) GetOptionChain(ctx context.Context, stockCode, exchangeCode string, expiry time.Time, right string) ([]OptionChainRecord, error) {
	r, err := normalizeRight(right)
	if err != nil {
		return nil, err
	}
	payload := map[string]string{
		"stock_code":    stockCode,
		"exchange_code": exchangeCode,
		"product_type":  "options",
		"expiry_date":   expiry.Format(marketDateLayout),
		"right":         r,
	}
	raw, err := b.request(ctx, http.MethodGet, "optionchain", payload, true)
	if err != nil {
		return nil, err
	}
	res := Normalize[OptionChainRecord](raw)
	if !res.OK {
		return nil, &Error{Kind: KindRejected, Message: res.Message}
	}
	return res.Records, nil
}

// GetOptionChainBothSides fetches the call and put legs concurrently and
// merges them into one record list.
func (b *BreezeAPI) GetOptionChainBothSides(ctx context.Context, stockCode, exchangeCode string, expiry time.Time) ([]OptionChainRecord, error) {
	var calls, puts []OptionChainRecord

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		calls, err = b.GetOptionChain(gctx, stockCode, exchangeCode, expiry, RightCall)
		return err
	})
	g.Go(func() error {
		var err error
		puts, err = b.GetOptionChain(gctx, stockCode, exchangeCode, expiry, RightPut)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]OptionChainRecord, 0, len(calls)+len(puts))
	merged = append(merged, calls...)
	merged = append(merged, puts...)
	return merged, nil
}

// GetQuote retrieves a realtime quote for one option contract.
func (b *BreezeAPI) GetQuote(ctx context.Context, stockCode, exchangeCode string, expiry time.Time, strike int, right string) (*QuoteRecord, error) {
	r, err := normalizeRight(right)
	if err != nil {
		return nil, err
	}
	payload := map[string]string{
		"stock_code":    stockCode,
		"exchange_code": exchangeCode,
		"product_type":  "options",
		"expiry_date":   expiry.Format(marketDateLayout),
		"right":         r,
		"strike_price":  strconv.Itoa(strike),
	}
	raw, err := b.request(ctx, http.MethodGet, "quotes", payload, true)
	if err != nil {
		return nil, err
	}
	res := Normalize[QuoteRecord](raw)
	if !res.OK {
		return nil, &Error{Kind: KindRejected, Message: res.Message}
	}
	if len(res.Records) == 0 {
		return nil, &Error{Kind: KindMalformed, Message: fmt.Sprintf("no quote for %s %d %s", stockCode, strike, r)}
	}
	first := res.First()
	return &first, nil
}

// OrderRequest describes one options order.
type OrderRequest struct {
	StockCode    string
	ExchangeCode string
	Expiry       time.Time
	Strike       int
	Right        string // call | put
	Action       string // buy | sell
	Quantity     int
	OrderType    string // market | limit
	LimitPrice   float64
	Stoploss     float64
	Validity     string // defaults to "day"
	UserRemark   string
}

func (r *OrderRequest) validate() error {
	if r.Quantity <= 0 {
		return fmt.Errorf("invalid quantity %d: must be > 0", r.Quantity)
	}
	if r.Strike <= 0 {
		return fmt.Errorf("invalid strike %d: must be > 0", r.Strike)
	}
	if r.OrderType == OrderTypeLimit && r.LimitPrice <= 0 {
		return fmt.Errorf("invalid limit price %.2f: must be > 0 for limit orders", r.LimitPrice)
	}
	return nil
}

// PlaceOrder submits an options order and returns the broker's
// acknowledgement containing the order identifier.
func (b *BreezeAPI) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	action, err := normalizeAction(req.Action)
	if err != nil {
		return nil, err
	}
	right, err := normalizeRight(req.Right)
	if err != nil {
		return nil, err
	}
	orderType, err := normalizeOrderType(req.OrderType)
	if err != nil {
		return nil, err
	}
	validity := req.Validity
	if validity == "" {
		validity = "day"
	}

	payload := map[string]string{
		"stock_code":    req.StockCode,
		"exchange_code": req.ExchangeCode,
		"product":       "options",
		"expiry_date":   req.Expiry.Format(marketDateLayout),
		"right":         right,
		"strike_price":  strconv.Itoa(req.Strike),
		"action":        action,
		"order_type":    orderType,
		"quantity":      strconv.Itoa(req.Quantity),
		"validity":      validity,
	}
	if orderType == OrderTypeLimit {
		payload["price"] = formatPrice(req.LimitPrice)
	}
	if req.Stoploss > 0 {
		payload["stoploss"] = formatPrice(req.Stoploss)
	}
	if req.UserRemark != "" {
		payload["user_remark"] = req.UserRemark
	}

	raw, err := b.request(ctx, http.MethodPost, "order", payload, true)
	if err != nil {
		return nil, err
	}
	res := Normalize[OrderAck](raw)
	if !res.OK {
		return nil, &Error{Kind: KindRejected, Message: res.Message}
	}
	if res.First().OrderID == "" {
		return nil, &Error{Kind: KindMalformed, Message: "order accepted but no order id returned"}
	}
	first := res.First()
	return &first, nil
}

// GetOrderList retrieves orders placed between from and to. Unlike the
// market-data endpoints this one wants full ISO-8601 timestamps.
func (b *BreezeAPI) GetOrderList(ctx context.Context, exchangeCode string, from, to time.Time) ([]OrderRecord, error) {
	payload := map[string]string{
		"exchange_code": exchangeCode,
		"from_date":     from.UTC().Format(isoTimestampLayout),
		"to_date":       to.UTC().Format(isoTimestampLayout),
	}
	raw, err := b.request(ctx, http.MethodGet, "order", payload, true)
	if err != nil {
		return nil, err
	}
	res := Normalize[OrderRecord](raw)
	if !res.OK {
		return nil, &Error{Kind: KindRejected, Message: res.Message}
	}
	return res.Records, nil
}

// CancelOrder cancels an open order.
func (b *BreezeAPI) CancelOrder(ctx context.Context, orderID, exchangeCode string) error {
	payload := map[string]string{
		"order_id":      orderID,
		"exchange_code": exchangeCode,
	}
	raw, err := b.request(ctx, http.MethodDelete, "order", payload, true)
	if err != nil {
		return err
	}
	res := Normalize[OrderAck](raw)
	if !res.OK {
		return &Error{Kind: KindRejected, Message: res.Message}
	}
	return nil
}

// ModifyOrder changes the quantity and/or price of an open order. Zero
// values leave the corresponding attribute unchanged.
func (b *BreezeAPI) ModifyOrder(ctx context.Context, orderID, exchangeCode string, quantity int, price float64) error {
	payload := map[string]string{
		"order_id":      orderID,
		"exchange_code": exchangeCode,
	}
	if quantity > 0 {
		payload["quantity"] = strconv.Itoa(quantity)
	}
	if price > 0 {
		payload["price"] = formatPrice(price)
	}
	raw, err := b.request(ctx, http.MethodPut, "order", payload, true)
	if err != nil {
		return err
	}
	res := Normalize[OrderAck](raw)
	if !res.OK {
		return &Error{Kind: KindRejected, Message: res.Message}
	}
	return nil
}

// GetMarginRequired asks the broker what margin a prospective order
// needs. Advisory only; the answer is never enforced before placement.
func (b *BreezeAPI) GetMarginRequired(ctx context.Context, req OrderRequest) (*MarginRecord, error) {
	action, err := normalizeAction(req.Action)
	if err != nil {
		return nil, err
	}
	right, err := normalizeRight(req.Right)
	if err != nil {
		return nil, err
	}
	payload := map[string]string{
		"stock_code":    req.StockCode,
		"exchange_code": req.ExchangeCode,
		"product_type":  "options",
		"expiry_date":   req.Expiry.Format(marketDateLayout),
		"right":         right,
		"strike_price":  strconv.Itoa(req.Strike),
		"action":        action,
		"quantity":      strconv.Itoa(req.Quantity),
		"order_type":    OrderTypeMarket,
	}
	raw, err := b.request(ctx, http.MethodGet, "margin", payload, true)
	if err != nil {
		return nil, err
	}
	res := Normalize[MarginRecord](raw)
	if !res.OK {
		return nil, &Error{Kind: KindRejected, Message: res.Message}
	}
	first := res.First()
	return &first, nil
}

// request performs one signed (or, for session establishment, unsigned)
// HTTP exchange and returns the raw response body. All Breeze endpoints
// take a JSON body regardless of method.
func (b *BreezeAPI) request(ctx context.Context, method, endpoint string, payload map[string]string, signed bool) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		if b.sessionToken == "" {
			return nil, &Error{Kind: KindAuth, Message: "not authenticated: call Authenticate first"}
		}
		timestamp := time.Now().UTC().Format(isoTimestampLayout)
		req.Header.Set("X-Checksum", "token "+checksum(timestamp, body, b.secret))
		req.Header.Set("X-Timestamp", timestamp)
		req.Header.Set("X-AppKey", b.appKey)
		req.Header.Set("X-SessionToken", b.sessionToken)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// 1MB cap; Breeze payloads are bounded option chains and order lists.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Status: resp.StatusCode, Message: "reading response body: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:    kindForStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("%s /%s -> %s", method, endpoint, strings.TrimSpace(string(raw))),
		}
	}
	return raw, nil
}

func checksum(timestamp string, body []byte, secret string) string {
	sum := sha256.Sum256([]byte(timestamp + string(body) + secret))
	return hex.EncodeToString(sum[:])
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}

func normalizeRight(right string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(right)) {
	case "call", "ce":
		return RightCall, nil
	case "put", "pe":
		return RightPut, nil
	default:
		return "", fmt.Errorf("invalid right %q: must be call or put", right)
	}
}

func normalizeAction(action string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "buy":
		return ActionBuy, nil
	case "sell":
		return ActionSell, nil
	default:
		return "", fmt.Errorf("invalid action %q: must be buy or sell", action)
	}
}

func normalizeOrderType(orderType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(orderType)) {
	case "", "market":
		return OrderTypeMarket, nil
	case "limit":
		return OrderTypeLimit, nil
	default:
		return "", fmt.Errorf("invalid order type %q: must be market or limit", orderType)
	}
}

func asBrokerError(err error, target **Error) bool {
	be, ok := err.(*Error)
	if ok {
		*target = be
	}
	return ok
}
