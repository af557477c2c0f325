package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func authedClient(t *testing.T, handler http.HandlerFunc) *BreezeAPI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	api := NewBreezeAPIWithBaseURL("app-key", "secret", srv.URL)
	api.sessionToken = "tok-123"
	return api
}

func TestAuthenticate_Success(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_, _ = w.Write([]byte(`{"Success": {"session_token": "sess-42", "idirect_user_name": "A"}, "Status": 200, "Error": null}`))
	}))
	defer srv.Close()

	api := NewBreezeAPIWithBaseURL("app-key", "secret", srv.URL)
	if err := api.Authenticate(context.Background(), "daily-token"); err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if !api.IsAuthenticated() {
		t.Fatal("IsAuthenticated() = false after successful auth")
	}
	if api.sessionToken != "sess-42" {
		t.Fatalf("sessionToken = %q, want sess-42", api.sessionToken)
	}
	if gotBody["SessionToken"] != "daily-token" || gotBody["AppKey"] != "app-key" {
		t.Fatalf("auth request body = %v", gotBody)
	}
}

func TestAuthenticate_EmptyTokenRejectedLocally(t *testing.T) {
	api := NewBreezeAPI("k", "s")
	err := api.Authenticate(context.Background(), "")
	if !IsAuthError(err) {
		t.Fatalf("error kind = %q, want auth", KindOf(err))
	}
}

func TestAuthenticate_UpstreamRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Success": null, "Status": 500, "Error": "Invalid session token"}`))
	}))
	defer srv.Close()

	api := NewBreezeAPIWithBaseURL("k", "s", srv.URL)
	err := api.Authenticate(context.Background(), "stale")
	if !IsAuthError(err) {
		t.Fatalf("error = %v, want auth kind", err)
	}
	if api.IsAuthenticated() {
		t.Fatal("IsAuthenticated() = true after rejection")
	}
}

func TestAuthenticate_ServerErrorMappedToAuth(t *testing.T) {
	// A 500 from the session endpoint almost always means a stale token.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	api := NewBreezeAPIWithBaseURL("k", "s", srv.URL)
	err := api.Authenticate(context.Background(), "stale")
	if !IsAuthError(err) {
		t.Fatalf("error = %v, want auth kind", err)
	}
}

func TestSignedRequest_RequiresSession(t *testing.T) {
	api := NewBreezeAPI("k", "s")
	_, err := api.GetPortfolioPositions(context.Background())
	if !IsAuthError(err) {
		t.Fatalf("error = %v, want auth kind", err)
	}
}

func TestSignedRequest_SetsChecksumHeaders(t *testing.T) {
	api := authedClient(t, func(w http.ResponseWriter, r *http.Request) {
		for _, h := range []string{"X-Checksum", "X-Timestamp", "X-AppKey", "X-SessionToken"} {
			if r.Header.Get(h) == "" {
				t.Errorf("missing header %s", h)
			}
		}
		if got := r.Header.Get("X-SessionToken"); got != "tok-123" {
			t.Errorf("X-SessionToken = %q", got)
		}
		if !strings.HasPrefix(r.Header.Get("X-Checksum"), "token ") {
			t.Errorf("X-Checksum = %q, want token prefix", r.Header.Get("X-Checksum"))
		}
		_, _ = w.Write([]byte(`{"Success": [], "Status": 200, "Error": null}`))
	})

	if _, err := api.GetPortfolioPositions(context.Background()); err != nil {
		t.Fatalf("GetPortfolioPositions() error: %v", err)
	}
}

func TestGetPortfolioPositions_SingleObjectWrapped(t *testing.T) {
	api := authedClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Success": {"stock_code": "NIFTY", "quantity": "50", "average_price": "102.5"}, "Status": 200, "Error": null}`))
	})

	positions, err := api.GetPortfolioPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPortfolioPositions() error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	if positions[0].Quantity != 50 || positions[0].AveragePrice != 102.5 {
		t.Fatalf("position = %+v", positions[0])
	}
}

func TestPlaceOrder_PayloadAndDateFormat(t *testing.T) {
	var gotMethod string
	var gotBody map[string]string
	api := authedClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_, _ = w.Write([]byte(`{"Success": {"order_id": "ORD-1", "message": "placed"}, "Status": 200, "Error": null}`))
	})

	expiry := time.Date(2025, 2, 6, 0, 0, 0, 0, time.UTC)
	ack, err := api.PlaceOrder(context.Background(), OrderRequest{
		StockCode:    "NIFTY",
		ExchangeCode: "NFO",
		Expiry:       expiry,
		Strike:       23500,
		Right:        "CE",
		Action:       "SELL",
		Quantity:     50,
		OrderType:    "limit",
		LimitPrice:   120.5,
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error: %v", err)
	}
	if ack.OrderID != "ORD-1" {
		t.Fatalf("OrderID = %q", ack.OrderID)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("method = %s, want POST", gotMethod)
	}
	// Market-data/order endpoints want day-abbreviated-month-year.
	if gotBody["expiry_date"] != "06-Feb-2025" {
		t.Fatalf("expiry_date = %q, want 06-Feb-2025", gotBody["expiry_date"])
	}
	if gotBody["right"] != "call" || gotBody["action"] != "sell" {
		t.Fatalf("right/action = %q/%q", gotBody["right"], gotBody["action"])
	}
	if gotBody["price"] != "120.50" {
		t.Fatalf("price = %q, want 120.50", gotBody["price"])
	}
}

func TestPlaceOrder_Validation(t *testing.T) {
	api := NewBreezeAPI("k", "s")
	tests := []struct {
		name string
		req  OrderRequest
	}{
		{"zero quantity", OrderRequest{Strike: 100, Quantity: 0, Right: "call", Action: "sell"}},
		{"zero strike", OrderRequest{Strike: 0, Quantity: 50, Right: "call", Action: "sell"}},
		{"limit without price", OrderRequest{Strike: 100, Quantity: 50, Right: "call", Action: "sell", OrderType: "limit"}},
		{"bad right", OrderRequest{Strike: 100, Quantity: 50, Right: "straddle", Action: "sell"}},
		{"bad action", OrderRequest{Strike: 100, Quantity: 50, Right: "call", Action: "hold"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := api.PlaceOrder(context.Background(), tt.req); err == nil {
				t.Fatal("PlaceOrder() accepted invalid request")
			}
		})
	}
}

func TestPlaceOrder_MissingOrderID(t *testing.T) {
	api := authedClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Success": {"message": "ok"}, "Status": 200, "Error": null}`))
	})
	_, err := api.PlaceOrder(context.Background(), OrderRequest{
		Strike: 100, Quantity: 50, Right: "call", Action: "sell",
	})
	if KindOf(err) != KindMalformed {
		t.Fatalf("error = %v, want malformed kind", err)
	}
}

func TestGetOrderList_ISOTimestamps(t *testing.T) {
	var gotBody map[string]string
	api := authedClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_, _ = w.Write([]byte(`{"Success": [{"order_id": "O1", "status": "Ordered"}], "Status": 200, "Error": null}`))
	})

	from := time.Date(2025, 2, 6, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 2, 7, 0, 0, 0, 0, time.UTC)
	orders, err := api.GetOrderList(context.Background(), "NFO", from, to)
	if err != nil {
		t.Fatalf("GetOrderList() error: %v", err)
	}
	// Unlike market-data endpoints, the order list wants ISO-8601.
	if gotBody["from_date"] != "2025-02-06T00:00:00.000Z" {
		t.Fatalf("from_date = %q", gotBody["from_date"])
	}
	if gotBody["to_date"] != "2025-02-07T00:00:00.000Z" {
		t.Fatalf("to_date = %q", gotBody["to_date"])
	}
	if len(orders) != 1 || !orders[0].IsOpen() {
		t.Fatalf("orders = %+v", orders)
	}
}

func TestGetOptionChainBothSides_MergesLegs(t *testing.T) {
	api := authedClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		switch body["right"] {
		case "call":
			_, _ = w.Write([]byte(`{"Success": [{"right": "Call", "strike_price": 100}], "Status": 200, "Error": null}`))
		case "put":
			_, _ = w.Write([]byte(`{"Success": [{"right": "Put", "strike_price": 100}, {"right": "Put", "strike_price": 110}], "Status": 200, "Error": null}`))
		default:
			t.Errorf("unexpected right %q", body["right"])
			_, _ = w.Write([]byte(`{"Success": [], "Status": 200, "Error": null}`))
		}
	})

	records, err := api.GetOptionChainBothSides(context.Background(), "NIFTY", "NFO", time.Now())
	if err != nil {
		t.Fatalf("GetOptionChainBothSides() error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3 (1 call + 2 puts)", len(records))
	}
}

func TestRequest_HTTPStatusToErrorKind(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusInternalServerError, KindNetwork},
		{http.StatusTooManyRequests, KindRejected},
	}
	for _, tt := range tests {
		api := authedClient(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", tt.status)
		})
		_, err := api.GetPortfolioPositions(context.Background())
		var be *Error
		if !errors.As(err, &be) {
			t.Fatalf("status %d: error = %v, want *Error", tt.status, err)
		}
		if be.Kind != tt.want || be.Status != tt.status {
			t.Fatalf("status %d: kind = %q (HTTP %d), want %q", tt.status, be.Kind, be.Status, tt.want)
		}
	}
}

func TestCancelOrder_Rejected(t *testing.T) {
	api := authedClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Success": null, "Status": 200, "Error": "Order already executed"}`))
	})
	err := api.CancelOrder(context.Background(), "O1", "NFO")
	if KindOf(err) != KindRejected {
		t.Fatalf("error = %v, want rejected kind", err)
	}
}

func TestNumberCoercion(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{`"120.5"`, 120.5},
		{`120.5`, 120.5},
		{`""`, 0},
		{`null`, 0},
		{`"garbage"`, 0},
		{`"-50"`, -50},
	}
	for _, tt := range tests {
		var n Number
		if err := json.Unmarshal([]byte(tt.raw), &n); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.raw, err)
		}
		if float64(n) != tt.want {
			t.Fatalf("Number(%s) = %v, want %v", tt.raw, float64(n), tt.want)
		}
	}
}
