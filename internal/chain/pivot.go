package chain

import "github.com/arjunvk/breeze-trader/internal/models"

// SideQuote is one side (call or put) of a pivoted chain row.
type SideQuote struct {
	OpenInterest int64   `json:"open_interest"`
	Volume       int64   `json:"volume"`
	LTP          float64 `json:"ltp"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
}

// PivotRow is the traditional side-by-side chain view: call columns, the
// strike, put columns. A side missing from the raw chain stays zero-filled.
type PivotRow struct {
	Call   SideQuote `json:"call"`
	Strike float64   `json:"strike"`
	Put    SideQuote `json:"put"`
}

// Pivot reshapes the row-per-(strike,right) table into one row per strike
// for side-by-side display, sorted by strike ascending. Duplicate rows for
// a (strike, right) keep the last occurrence.
func (t Table) Pivot() []PivotRow {
	if t.Empty() {
		return nil
	}

	calls := make(map[float64]SideQuote)
	puts := make(map[float64]SideQuote)
	for _, r := range t.Rows {
		q := SideQuote{
			OpenInterest: r.OpenInterest,
			Volume:       r.Volume,
			LTP:          r.LTP,
			Bid:          r.Bid,
			Ask:          r.Ask,
		}
		switch r.Right {
		case models.RightCall:
			calls[r.Strike] = q
		case models.RightPut:
			puts[r.Strike] = q
		}
	}

	strikes := t.Strikes()
	rows := make([]PivotRow, 0, len(strikes))
	for _, s := range strikes {
		rows = append(rows, PivotRow{
			Call:   calls[s],
			Strike: s,
			Put:    puts[s],
		})
	}
	return rows
}

// Analytics bundles the derived chain metrics for one fetch.
type Analytics struct {
	PCR       float64 `json:"pcr"`
	MaxPain   int     `json:"max_pain"`
	ATMStrike float64 `json:"atm_strike"`
}

// Summarize computes all derived metrics in one pass-friendly call.
func (t Table) Summarize() Analytics {
	return Analytics{
		PCR:       t.PCR(),
		MaxPain:   t.MaxPain(),
		ATMStrike: t.ATMStrike(),
	}
}
