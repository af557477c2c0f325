package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arjunvk/breeze-trader/internal/util"
)

// Instrument describes one tradable index: where it lists, what the broker
// calls it, and its contract parameters. StockCode is the broker-internal
// identifier, which is not always the public ticker (SENSEX trades as
// BSESEN on Breeze).
type Instrument struct {
	Name          string       `json:"name"`
	Exchange      string       `json:"exchange"` // NFO | BFO
	StockCode     string       `json:"stock_code"`
	LotSize       int          `json:"lot_size"`
	StrikeGap     int          `json:"strike_gap"`
	ExpiryWeekday time.Weekday `json:"expiry_weekday"`
	Description   string       `json:"description"`
}

// instruments is the static table of supported indexes. Lot sizes and
// expiry weekdays follow the exchanges' current contract specs.
var instruments = map[string]Instrument{
	"NIFTY": {
		Name: "NIFTY", Exchange: "NFO", StockCode: "NIFTY",
		LotSize: 25, StrikeGap: 50, ExpiryWeekday: time.Thursday,
		Description: "NIFTY 50 Index",
	},
	"BANKNIFTY": {
		Name: "BANKNIFTY", Exchange: "NFO", StockCode: "CNXBAN",
		LotSize: 15, StrikeGap: 100, ExpiryWeekday: time.Wednesday,
		Description: "Bank NIFTY Index",
	},
	"FINNIFTY": {
		Name: "FINNIFTY", Exchange: "NFO", StockCode: "NIFFIN",
		LotSize: 25, StrikeGap: 50, ExpiryWeekday: time.Tuesday,
		Description: "NIFTY Financial Services",
	},
	"MIDCPNIFTY": {
		Name: "MIDCPNIFTY", Exchange: "NFO", StockCode: "NIFMID",
		LotSize: 50, StrikeGap: 25, ExpiryWeekday: time.Monday,
		Description: "NIFTY Midcap Select",
	},
	"SENSEX": {
		Name: "SENSEX", Exchange: "BFO", StockCode: "BSESEN",
		LotSize: 10, StrikeGap: 100, ExpiryWeekday: time.Friday,
		Description: "BSE SENSEX",
	},
	"BANKEX": {
		Name: "BANKEX", Exchange: "BFO", StockCode: "BSEBAN",
		LotSize: 15, StrikeGap: 100, ExpiryWeekday: time.Monday,
		Description: "BSE BANKEX",
	},
}

// LookupInstrument resolves an index by its public name, case-insensitive.
func LookupInstrument(name string) (Instrument, error) {
	inst, ok := instruments[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Instrument{}, fmt.Errorf("unknown instrument %q (supported: %s)",
			name, strings.Join(InstrumentNames(), ", "))
	}
	return inst, nil
}

// InstrumentNames lists the supported index names, sorted.
func InstrumentNames() []string {
	names := make([]string, 0, len(instruments))
	for name := range instruments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NextExpiries returns the instrument's next count weekly expiry dates in
// IST, starting from the first expiry weekday strictly after now's date.
func NextExpiries(inst Instrument, count int, now time.Time) []time.Time {
	if count <= 0 {
		return nil
	}

	t := now.In(util.IST())
	daysAhead := (int(inst.ExpiryWeekday) - int(t.Weekday()) + 7) % 7
	if daysAhead == 0 {
		daysAhead = 7
	}
	first := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, util.IST()).
		AddDate(0, 0, daysAhead)

	expiries := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		expiries = append(expiries, first.AddDate(0, 0, 7*i))
	}
	return expiries
}
