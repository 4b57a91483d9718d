package config

import (
	"testing"
	"time"
)

func TestValidateLedgerConfig(t *testing.T) {
	if err := validateLedgerConfig(DefaultLedgerConfig()); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}

	cfg := DefaultLedgerConfig()
	cfg.Timezone = "Mars/Olympus"
	if err := validateLedgerConfig(cfg); err == nil {
		t.Fatalf("expected invalid timezone error")
	}

	cfg = DefaultLedgerConfig()
	cfg.Currency = " "
	if err := validateLedgerConfig(cfg); err == nil {
		t.Fatalf("expected empty currency error")
	}
}

func TestLedgerConfigLocationFallsBackToUTC(t *testing.T) {
	cfg := LedgerConfig{Timezone: "not-a-zone"}
	if got := cfg.Location(); got != time.UTC {
		t.Fatalf("expected UTC fallback, got %v", got)
	}

	cfg.Timezone = "Asia/Colombo"
	if got := cfg.Location().String(); got != "Asia/Colombo" {
		t.Fatalf("expected Asia/Colombo, got %s", got)
	}
}

func TestNilHolderReturnsDefaults(t *testing.T) {
	var holder *LedgerConfigHolder
	if got := holder.Get(); got.Currency != DefaultLedgerConfig().Currency {
		t.Fatalf("expected default currency, got %q", got.Currency)
	}
}
