package broker

import (
	"bytes"
	"strconv"
	"strings"
)

// Number absorbs numeric fields that the Breeze API serializes
// inconsistently as bare numbers, quoted strings, empty strings, or null.
// Unparseable values decode to zero rather than failing the record.
type Number float64

// UnmarshalJSON implements json.Unmarshaler for Number.
func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number(coerceFloat(b))
	return nil
}

// Integer is the integer counterpart of Number. String-typed quantities
// such as "50" or "50.0" decode to 50; garbage decodes to zero.
type Integer int64

// UnmarshalJSON implements json.Unmarshaler for Integer.
func (i *Integer) UnmarshalJSON(b []byte) error {
	*i = Integer(coerceFloat(b))
	return nil
}

func coerceFloat(b []byte) float64 {
	s := string(bytes.TrimSpace(b))
	s = strings.TrimSpace(strings.Trim(s, `"`))
	if s == "" || s == "null" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// CustomerDetails is the profile record returned by the session endpoint.
type CustomerDetails struct {
	SessionToken string `json:"session_token"`
	UserName     string `json:"idirect_user_name"`
	UserID       string `json:"idirect_userid"`
}

// FundsRecord reports the account's available margin and limits.
type FundsRecord struct {
	BankAccount      string `json:"bank_account"`
	TotalBankBalance Number `json:"total_bank_balance"`
	AllocatedEquity  Number `json:"allocated_equity"`
	AllocatedFNO     Number `json:"allocated_fno"`
	BlockByTradeFNO  Number `json:"block_by_trade_fno"`
	AvailableMargin  Number `json:"available_margin"`
}

// PositionRecord is one open contract as reported by the portfolio
// positions endpoint. Quantity is an unsigned magnitude for most response
// variants; the side-signal fields (Action, BuyQuantity/SellQuantity,
// OpenBuyQuantity/OpenSellQuantity, PositionType, Segment) carry the
// evidence the classifier works from.
type PositionRecord struct {
	StockCode        string  `json:"stock_code"`
	ExchangeCode     string  `json:"exchange_code"`
	ProductType      string  `json:"product_type"`
	ExpiryDate       string  `json:"expiry_date"`
	Right            string  `json:"right"`
	StrikePrice      Number  `json:"strike_price"`
	Action           string  `json:"action"`
	Quantity         Integer `json:"quantity"`
	AveragePrice     Number  `json:"average_price"`
	LTP              Number  `json:"ltp"`
	BuyQuantity      Integer `json:"buy_quantity"`
	SellQuantity     Integer `json:"sell_quantity"`
	OpenBuyQuantity  Integer `json:"open_buy_qty"`
	OpenSellQuantity Integer `json:"open_sell_qty"`
	PositionType     string  `json:"position_type"`
	Segment          string  `json:"segment"`
	OrderID          string  `json:"order_id"`
}

// OptionChainRecord is one (strike, right) row of an option chain.
type OptionChainRecord struct {
	StockCode        string  `json:"stock_code"`
	ExchangeCode     string  `json:"exchange_code"`
	ExpiryDate       string  `json:"expiry_date"`
	Right            string  `json:"right"`
	StrikePrice      Number  `json:"strike_price"`
	LTP              Number  `json:"ltp"`
	BestBidPrice     Number  `json:"best_bid_price"`
	BestOfferPrice   Number  `json:"best_offer_price"`
	OpenInterest     Integer `json:"open_interest"`
	Volume           Integer `json:"total_quantity_traded"`
	LTPPercentChange Number  `json:"ltp_percent_change"`
}

// QuoteRecord is a realtime quote for a single option contract.
type QuoteRecord struct {
	StockCode      string `json:"stock_code"`
	ExchangeCode   string `json:"exchange_code"`
	ExpiryDate     string `json:"expiry_date"`
	Right          string `json:"right"`
	StrikePrice    Number `json:"strike_price"`
	LTP            Number `json:"ltp"`
	BestBidPrice   Number `json:"best_bid_price"`
	BestOfferPrice Number `json:"best_offer_price"`
	Open           Number `json:"open"`
	High           Number `json:"high"`
	Low            Number `json:"low"`
	PreviousClose  Number `json:"previous_close"`
}

// OrderAck is the acknowledgement returned by order placement,
// cancellation, and modification.
type OrderAck struct {
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

// OrderRecord is one order as reported by the order list endpoint.
type OrderRecord struct {
	OrderID       string  `json:"order_id"`
	ExchangeCode  string  `json:"exchange_code"`
	StockCode     string  `json:"stock_code"`
	ExpiryDate    string  `json:"expiry_date"`
	Right         string  `json:"right"`
	StrikePrice   Number  `json:"strike_price"`
	Action        string  `json:"action"`
	OrderType     string  `json:"order_type"`
	Quantity      Integer `json:"quantity"`
	Price         Number  `json:"price"`
	AveragePrice  Number  `json:"average_price"`
	PendingQty    Integer `json:"pending_quantity"`
	Status        string  `json:"status"`
	OrderDatetime string  `json:"order_datetime"`
}

// IsOpen reports whether the order can still be cancelled or modified.
func (o *OrderRecord) IsOpen() bool {
	s := strings.ToLower(o.Status)
	return strings.Contains(s, "pending") || strings.Contains(s, "open") ||
		strings.Contains(s, "ordered")
}

// MarginRecord reports the margin required for a prospective trade.
// Advisory only; nothing blocks order placement on it.
type MarginRecord struct {
	RequiredMargin   Number `json:"required_margin"`
	AvailableMargin  Number `json:"available_margin"`
	BlockTradeMargin Number `json:"block_trade_margin"`
}
