// Package chain shapes raw option-chain payloads into a numeric table and
// derives the usual analytics over it: put-call ratio, max pain, and an
// at-the-money estimate. Everything here is stateless and total: malformed
// input yields an empty table and metrics return their degenerate values.
package chain

import (
	"sort"

	"github.com/arjunvk/breeze-trader/internal/broker"
	"github.com/arjunvk/breeze-trader/internal/models"
)

// Row is one (strike, right) entry of an option chain.
type Row struct {
	Strike       float64 `json:"strike"`
	Right        string  `json:"right"` // Call | Put
	LTP          float64 `json:"ltp"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	OpenInterest int64   `json:"open_interest"`
	Volume       int64   `json:"volume"`
	PctChange    float64 `json:"pct_change"`
}

// Table is an option chain as a flat list of rows.
type Table struct {
	Rows []Row `json:"rows"`
}

// FromRecords builds a Table from normalized broker records. Numeric
// coercion already happened at unmarshal (string-typed fields decode to
// zero on failure); rows with an unrecognizable right are kept so the
// problem stays visible.
func FromRecords(records []broker.OptionChainRecord) Table {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, Row{
			Strike:       float64(rec.StrikePrice),
			Right:        models.NormalizeRight(rec.Right),
			LTP:          float64(rec.LTP),
			Bid:          float64(rec.BestBidPrice),
			Ask:          float64(rec.BestOfferPrice),
			OpenInterest: int64(rec.OpenInterest),
			Volume:       int64(rec.Volume),
			PctChange:    float64(rec.LTPPercentChange),
		})
	}
	return Table{Rows: rows}
}

// Empty reports whether the table has no rows.
func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

// Strikes returns the distinct strikes in ascending order.
func (t Table) Strikes() []float64 {
	seen := make(map[float64]struct{}, len(t.Rows))
	strikes := make([]float64, 0, len(t.Rows))
	for _, r := range t.Rows {
		if _, ok := seen[r.Strike]; ok {
			continue
		}
		seen[r.Strike] = struct{}{}
		strikes = append(strikes, r.Strike)
	}
	sort.Float64s(strikes)
	return strikes
}

// PCR is the put-call ratio: total put open interest over total call open
// interest. Zero call OI returns 0 — a degenerate market, not an error.
func (t Table) PCR() float64 {
	var callOI, putOI int64
	for _, r := range t.Rows {
		switch r.Right {
		case models.RightCall:
			callOI += r.OpenInterest
		case models.RightPut:
			putOI += r.OpenInterest
		}
	}
	if callOI <= 0 {
		return 0
	}
	return float64(putOI) / float64(callOI)
}

// MaxPain returns the strike at which option writers' aggregate payout is
// minimized. For each candidate strike S the payout is the sum over calls
// struck below S of (S-strike)×OI plus the sum over puts struck above S of
// (strike-S)×OI. O(n²) over distinct strikes × rows; chains are bounded to
// a few hundred rows. Ties resolve to the lowest strike; an empty table
// returns 0.
func (t Table) MaxPain() int {
	strikes := t.Strikes()
	if len(strikes) == 0 {
		return 0
	}

	best := strikes[0]
	bestPain := t.painAt(strikes[0])
	for _, s := range strikes[1:] {
		if pain := t.painAt(s); pain < bestPain {
			best, bestPain = s, pain
		}
	}
	return int(best)
}

func (t Table) painAt(s float64) float64 {
	var pain float64
	for _, r := range t.Rows {
		switch {
		case r.Right == models.RightCall && r.Strike < s:
			pain += (s - r.Strike) * float64(r.OpenInterest)
		case r.Right == models.RightPut && r.Strike > s:
			pain += (r.Strike - s) * float64(r.OpenInterest)
		}
	}
	return pain
}

// ATMStrike estimates the at-the-money strike: the strike where call and
// put last-traded prices are closest, considering only strikes quoted on
// both sides. With no such pair it falls back to the middle of the sorted
// distinct strikes, and to 0 on an empty table. Ties resolve to the lowest
// strike.
func (t Table) ATMStrike() float64 {
	calls, puts := t.sideLTPs()

	best, bestDiff, found := 0.0, 0.0, false
	for _, s := range t.Strikes() {
		c, okC := calls[s]
		p, okP := puts[s]
		if !okC || !okP {
			continue
		}
		diff := c - p
		if diff < 0 {
			diff = -diff
		}
		if !found || diff < bestDiff {
			best, bestDiff, found = s, diff, true
		}
	}
	if found {
		return best
	}

	strikes := t.Strikes()
	if len(strikes) == 0 {
		return 0
	}
	return strikes[len(strikes)/2]
}

// sideLTPs maps strike to LTP per side; a duplicated (strike, right) row
// keeps the last value, matching how the chain endpoint re-reports rows.
func (t Table) sideLTPs() (calls, puts map[float64]float64) {
	calls = make(map[float64]float64)
	puts = make(map[float64]float64)
	for _, r := range t.Rows {
		switch r.Right {
		case models.RightCall:
			calls[r.Strike] = r.LTP
		case models.RightPut:
			puts[r.Strike] = r.LTP
		}
	}
	return calls, puts
}
