// Package util provides the small shared helpers: the IST market clock
// and Indian-market display formatting.
package util

import (
	"fmt"
	"time"
)

// ist is resolved once; minimal containers without tzdata fall back to a
// fixed +05:30 zone, which is correct year-round (India has no DST).
var ist = loadIST()

func loadIST() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}

// IST returns the Indian market timezone.
func IST() *time.Location {
	return ist
}

// MarketPhase is the coarse state of the NSE/BSE derivatives session.
type MarketPhase string

const (
	// PhaseClosedWeekend covers Saturday and Sunday.
	PhaseClosedWeekend MarketPhase = "closed-weekend"
	// PhasePreMarket is before 09:00 IST.
	PhasePreMarket MarketPhase = "pre-market"
	// PhasePreOpen is the 09:00–09:15 IST pre-open auction.
	PhasePreOpen MarketPhase = "pre-open"
	// PhaseOpen is the 09:15–15:30 IST trading session.
	PhaseOpen MarketPhase = "open"
	// PhaseClosed is after 15:30 IST on a weekday.
	PhaseClosed MarketPhase = "closed"
)

// MarketPhaseAt reports the session phase at the given instant.
func MarketPhaseAt(now time.Time) MarketPhase {
	t := now.In(ist)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return PhaseClosedWeekend
	}

	minutes := t.Hour()*60 + t.Minute()
	const (
		preOpenAt = 9 * 60     // 09:00
		openAt    = 9*60 + 15  // 09:15
		closeAt   = 15*60 + 30 // 15:30
	)
	switch {
	case minutes < preOpenAt:
		return PhasePreMarket
	case minutes < openAt:
		return PhasePreOpen
	case minutes <= closeAt:
		return PhaseOpen
	default:
		return PhaseClosed
	}
}

// IsMarketOpen reports whether the trading session is live at now.
func IsMarketOpen(now time.Time) bool {
	return MarketPhaseAt(now) == PhaseOpen
}

// FormatINR renders a rupee amount compactly: crores above 1e7, lakhs
// above 1e5, thousands above 1e3, plain rupees below.
func FormatINR(v float64) string {
	abs := v
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1e7:
		return fmt.Sprintf("₹%.2fCr", v/1e7)
	case abs >= 1e5:
		return fmt.Sprintf("₹%.2fL", v/1e5)
	case abs >= 1e3:
		return fmt.Sprintf("₹%.1fK", v/1e3)
	default:
		return fmt.Sprintf("₹%.2f", v)
	}
}

// FormatExpiry renders an expiry date with its weekday, e.g.
// "06-Feb-2025 (Thu)". The zero time renders as "-".
func FormatExpiry(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("02-Jan-2006 (Mon)")
}
