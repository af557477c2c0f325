package broker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Broker defines the interface for interacting with the brokerage.
type Broker interface {
	// Session
	Authenticate(ctx context.Context, dailySessionToken string) error
	IsAuthenticated() bool
	GetCustomerDetails(ctx context.Context) (*CustomerDetails, error)

	// Account
	GetFunds(ctx context.Context) (*FundsRecord, error)
	GetPortfolioPositions(ctx context.Context) ([]PositionRecord, error)

	// Market data
	GetOptionChain(ctx context.Context, stockCode, exchangeCode string, expiry time.Time, right string) ([]OptionChainRecord, error)
	GetOptionChainBothSides(ctx context.Context, stockCode, exchangeCode string, expiry time.Time) ([]OptionChainRecord, error)
	GetQuote(ctx context.Context, stockCode, exchangeCode string, expiry time.Time, strike int, right string) (*QuoteRecord, error)

	// Orders
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	GetOrderList(ctx context.Context, exchangeCode string, from, to time.Time) ([]OrderRecord, error)
	CancelOrder(ctx context.Context, orderID, exchangeCode string) error
	ModifyOrder(ctx context.Context, orderID, exchangeCode string, quantity int, price float64) error
	GetMarginRequired(ctx context.Context, req OrderRequest) (*MarginRecord, error)
}

// Ensure BreezeAPI implements Broker at compile time.
var _ Broker = (*BreezeAPI)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality so
// a flapping upstream does not get hammered by every page refresh.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(b Broker, logger *logrus.Logger) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(b, logger, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(b Broker, logger *logrus.Logger, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "BreezeCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		// Rejections and auth failures are the broker answering, not the
		// transport failing; only network/malformed responses count
		// against the circuit.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			kind := KindOf(err)
			return kind == KindRejected || kind == KindAuth
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warnf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  b,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	b Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(b) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, &Error{Kind: KindMalformed, Message: "circuit breaker: type assertion failed"}
	}
	return v, nil
}

// Authenticate wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Authenticate(ctx context.Context, dailySessionToken string) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.Authenticate(ctx, dailySessionToken)
	})
	return err
}

// IsAuthenticated reports the underlying broker's session status.
func (c *CircuitBreakerBroker) IsAuthenticated() bool {
	return c.broker.IsAuthenticated()
}

// GetCustomerDetails wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetCustomerDetails(ctx context.Context) (*CustomerDetails, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*CustomerDetails, error) {
		return b.GetCustomerDetails(ctx)
	})
}

// GetFunds wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetFunds(ctx context.Context) (*FundsRecord, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*FundsRecord, error) {
		return b.GetFunds(ctx)
	})
}

// GetPortfolioPositions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetPortfolioPositions(ctx context.Context) ([]PositionRecord, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]PositionRecord, error) {
		return b.GetPortfolioPositions(ctx)
	})
}

// GetOptionChain wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionChain(ctx context.Context, stockCode, exchangeCode string, expiry time.Time, right string) ([]OptionChainRecord, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]OptionChainRecord, error) {
		return b.GetOptionChain(ctx, stockCode, exchangeCode, expiry, right)
	})
}

// GetOptionChainBothSides wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionChainBothSides(ctx context.Context, stockCode, exchangeCode string, expiry time.Time) ([]OptionChainRecord, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]OptionChainRecord, error) {
		return b.GetOptionChainBothSides(ctx, stockCode, exchangeCode, expiry)
	})
}

// GetQuote wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetQuote(ctx context.Context, stockCode, exchangeCode string, expiry time.Time, strike int, right string) (*QuoteRecord, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*QuoteRecord, error) {
		return b.GetQuote(ctx, stockCode, exchangeCode, expiry, strike, right)
	})
}

// PlaceOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderAck, error) {
		return b.PlaceOrder(ctx, req)
	})
}

// GetOrderList wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOrderList(ctx context.Context, exchangeCode string, from, to time.Time) ([]OrderRecord, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]OrderRecord, error) {
		return b.GetOrderList(ctx, exchangeCode, from, to)
	})
}

// CancelOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) CancelOrder(ctx context.Context, orderID, exchangeCode string) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.CancelOrder(ctx, orderID, exchangeCode)
	})
	return err
}

// ModifyOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) ModifyOrder(ctx context.Context, orderID, exchangeCode string, quantity int, price float64) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.ModifyOrder(ctx, orderID, exchangeCode, quantity, price)
	})
	return err
}

// GetMarginRequired wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetMarginRequired(ctx context.Context, req OrderRequest) (*MarginRecord, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*MarginRecord, error) {
		return b.GetMarginRequired(ctx, req)
	})
}
