package models

import (
	"strings"

	"github.com/arjunvk/breeze-trader/internal/broker"
)

// Classification is the outcome of the side cascade. Ambiguous means no
// signal decided the side and the conservative long default was used.
type Classification struct {
	Side      Side
	Ambiguous bool
	// Signal names the rule that decided, for diagnostics.
	Signal string
}

// ClassifySide infers whether a position is economically long or short.
// Breeze reports quantity as a positive magnitude for both sides, so the
// side has to come from weaker evidence, checked strongest first:
//
//  1. the opening trade's action
//  2. free-text position_type / segment hints
//  3. buy-quantity vs sell-quantity split
//  4. open buy/sell quantity split
//  5. sign of the quantity field, when a variant does sign it
//
// A total function: malformed or missing fields are absent evidence, never
// errors. When nothing decides, the side defaults to long and Ambiguous is
// set so callers can refuse to act on the guess.
func ClassifySide(rec broker.PositionRecord) Classification {
	switch strings.ToLower(strings.TrimSpace(rec.Action)) {
	case "sell":
		return Classification{Side: SideShort, Signal: "action"}
	case "buy":
		return Classification{Side: SideLong, Signal: "action"}
	}

	for _, hint := range []string{rec.PositionType, rec.Segment} {
		v := strings.ToLower(hint)
		if strings.Contains(v, "short") || strings.Contains(v, "sell") {
			return Classification{Side: SideShort, Signal: "type-hint"}
		}
		if strings.Contains(v, "long") || strings.Contains(v, "buy") {
			return Classification{Side: SideLong, Signal: "type-hint"}
		}
	}

	// Quantity splits are coerced to non-negative; the broker.Integer
	// type already turned garbage into zero.
	sq, bq := nonNegative(rec.SellQuantity), nonNegative(rec.BuyQuantity)
	if sq != bq {
		if sq > bq {
			return Classification{Side: SideShort, Signal: "qty-split"}
		}
		return Classification{Side: SideLong, Signal: "qty-split"}
	}

	osq, obq := nonNegative(rec.OpenSellQuantity), nonNegative(rec.OpenBuyQuantity)
	if osq != obq {
		if osq > obq {
			return Classification{Side: SideShort, Signal: "open-qty-split"}
		}
		return Classification{Side: SideLong, Signal: "open-qty-split"}
	}

	if rec.Quantity < 0 {
		return Classification{Side: SideShort, Signal: "signed-qty"}
	}

	return Classification{Side: SideLong, Ambiguous: true, Signal: "default"}
}

func nonNegative(v broker.Integer) int64 {
	if v < 0 {
		return 0
	}
	return int64(v)
}

// CloseAction returns the order action that flattens a position: buy back
// a short, sell out a long.
func CloseAction(side Side) string {
	if side == SideShort {
		return broker.ActionBuy
	}
	return broker.ActionSell
}
