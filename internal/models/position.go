// Package models holds the position-side classification, P&L attribution,
// and close-action logic at the heart of the trader. The broker reports
// position quantity as an unsigned magnitude, so economic side must be
// inferred from secondary signals; everything downstream (square-off
// direction, P&L sign) hangs off that inference.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/arjunvk/breeze-trader/internal/broker"
)

// Side is the economic direction of a position.
type Side string

const (
	// SideLong profits when the option price rises.
	SideLong Side = "long"
	// SideShort profits when the option price falls.
	SideShort Side = "short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideShort {
		return SideLong
	}
	return SideShort
}

// Right values as displayed; broker payloads vary in casing.
const (
	RightCall = "Call"
	RightPut  = "Put"
)

// NormalizeRight maps the broker's inconsistent right casing ("call",
// "CALL", "CE", ...) onto the display form. Unrecognized input passes
// through trimmed so it stays visible in tables.
func NormalizeRight(right string) string {
	switch strings.ToLower(strings.TrimSpace(right)) {
	case "call", "ce":
		return RightCall
	case "put", "pe":
		return RightPut
	default:
		return strings.TrimSpace(right)
	}
}

// Expiry layouts seen across Breeze endpoints.
var expiryLayouts = []string{
	"2006-01-02",
	"02-Jan-2006",
	"2006-01-02T15:04:05.000Z",
	"02-Jan-2006 15:04:05",
}

// ParseExpiry parses the expiry strings the broker emits. The zero time
// and false are returned when no layout matches.
func ParseExpiry(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ClassifiedPosition is a Position record plus everything derived from the
// side inference: the side itself, the signed P&L, the order action that
// flattens it, and the Ambiguous flag raised when classification fell back
// to its default. It is a pure projection recomputed on every fetch.
type ClassifiedPosition struct {
	StockCode    string    `json:"stock_code"`
	ExchangeCode string    `json:"exchange_code"`
	Expiry       time.Time `json:"expiry"`
	ExpiryRaw    string    `json:"expiry_raw"`
	Strike       int       `json:"strike"`
	Right        string    `json:"right"`
	Quantity     int       `json:"quantity"` // magnitude, never signed
	AveragePrice float64   `json:"average_price"`
	LTP          float64   `json:"ltp"`

	Side        Side    `json:"side"`
	PnL         float64 `json:"pnl"`
	CloseAction string  `json:"close_action"`
	// Ambiguous is true when no side signal was present and the
	// classifier defaulted to long. Callers should treat such positions
	// with suspicion rather than trusting the default.
	Ambiguous bool `json:"ambiguous"`
}

// Key is the position's natural key: instrument + expiry + strike + right.
func (p *ClassifiedPosition) Key() string {
	return fmt.Sprintf("%s|%s|%d|%s", p.StockCode, p.ExpiryRaw, p.Strike, p.Right)
}

// Classify projects a raw broker position record into a ClassifiedPosition,
// running the side cascade and deriving P&L and close action.
func Classify(rec broker.PositionRecord) ClassifiedPosition {
	c := ClassifySide(rec)
	qty := int(rec.Quantity)
	if qty < 0 {
		qty = -qty
	}

	expiry, _ := ParseExpiry(rec.ExpiryDate)

	return ClassifiedPosition{
		StockCode:    rec.StockCode,
		ExchangeCode: rec.ExchangeCode,
		Expiry:       expiry,
		ExpiryRaw:    rec.ExpiryDate,
		Strike:       int(rec.StrikePrice),
		Right:        NormalizeRight(rec.Right),
		Quantity:     qty,
		AveragePrice: float64(rec.AveragePrice),
		LTP:          float64(rec.LTP),
		Side:         c.Side,
		PnL:          PnL(c.Side, float64(rec.AveragePrice), float64(rec.LTP), qty),
		CloseAction:  CloseAction(c.Side),
		Ambiguous:    c.Ambiguous,
	}
}
