package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
environment:
  log_level: debug
broker:
  api_key: key
  api_secret: secret
server:
  port: 8080
cache:
  option_chain_ttl: 45s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Broker.APIKey != "key" || cfg.Server.Port != 8080 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if got := cfg.OptionChainTTL(); got != 45*time.Second {
		t.Fatalf("OptionChainTTL() = %v, want 45s", got)
	}
	// Unset durations fall back to defaults.
	if got := cfg.FundsTTL(); got != 60*time.Second {
		t.Fatalf("FundsTTL() = %v, want 60s", got)
	}
	if got := cfg.StaleSessionAfter(); got != 8*time.Hour {
		t.Fatalf("StaleSessionAfter() = %v, want 8h", got)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_BREEZE_KEY", "from-env")
	cfg, err := Load(writeConfig(t, `
broker:
  api_key: ${TEST_BREEZE_KEY}
  api_secret: secret
server:
  port: 9000
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Broker.APIKey != "from-env" {
		t.Fatalf("api_key = %q, want from-env", cfg.Broker.APIKey)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing api key", "broker:\n  api_secret: s\nserver:\n  port: 8080\n"},
		{"missing api secret", "broker:\n  api_key: k\nserver:\n  port: 8080\n"},
		{"bad port", "broker:\n  api_key: k\n  api_secret: s\nserver:\n  port: 70000\n"},
		{"bad ttl", "broker:\n  api_key: k\n  api_secret: s\nserver:\n  port: 80\ncache:\n  funds_ttl: soon\n"},
		{"bad log level", "environment:\n  log_level: loud\nbroker:\n  api_key: k\n  api_secret: s\nserver:\n  port: 80\n"},
		{"unknown field", "broker:\n  api_key: k\n  api_secret: s\n  extra: nope\nserver:\n  port: 80\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.yaml)); err == nil {
				t.Fatal("Load() accepted invalid config")
			}
		})
	}
}

func TestLookupInstrument(t *testing.T) {
	inst, err := LookupInstrument("nifty")
	if err != nil {
		t.Fatalf("LookupInstrument() error: %v", err)
	}
	if inst.Exchange != "NFO" || inst.LotSize != 25 || inst.StrikeGap != 50 {
		t.Fatalf("inst = %+v", inst)
	}

	// Broker-internal code differs from the public ticker on BSE.
	sensex, err := LookupInstrument("SENSEX")
	if err != nil {
		t.Fatal(err)
	}
	if sensex.StockCode != "BSESEN" || sensex.Exchange != "BFO" {
		t.Fatalf("sensex = %+v", sensex)
	}

	if _, err := LookupInstrument("DOWJONES"); err == nil {
		t.Fatal("LookupInstrument() accepted unknown instrument")
	}
}

func TestNextExpiries(t *testing.T) {
	inst, _ := LookupInstrument("NIFTY") // expires Thursday

	// Monday 2025-02-03 IST: next Thursday is 2025-02-06.
	now := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)
	expiries := NextExpiries(inst, 3, now)
	if len(expiries) != 3 {
		t.Fatalf("len = %d, want 3", len(expiries))
	}
	wantDays := []int{6, 13, 20}
	for i, e := range expiries {
		if e.Weekday() != time.Thursday {
			t.Fatalf("expiry %d on %s, want Thursday", i, e.Weekday())
		}
		if e.Day() != wantDays[i] || e.Month() != time.February {
			t.Fatalf("expiry %d = %v, want Feb %d", i, e, wantDays[i])
		}
	}
}

func TestNextExpiries_OnExpiryDayRollsToNextWeek(t *testing.T) {
	inst, _ := LookupInstrument("NIFTY")
	// Thursday 2025-02-06 IST: today never counts, next is 2025-02-13.
	now := time.Date(2025, 2, 6, 10, 0, 0, 0, time.UTC)
	expiries := NextExpiries(inst, 1, now)
	if len(expiries) != 1 || expiries[0].Day() != 13 {
		t.Fatalf("expiries = %v, want Feb 13", expiries)
	}
}

func TestNextExpiries_ZeroCount(t *testing.T) {
	inst, _ := LookupInstrument("NIFTY")
	if got := NextExpiries(inst, 0, time.Now()); got != nil {
		t.Fatalf("NextExpiries(0) = %v, want nil", got)
	}
}
