package config

import (
	"testing"

	"github.com/claw4business/quickbooks-online-cli/internal/ledger"
	"github.com/spf13/viper"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestCreateLedgerConfigEnvironments(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		wantBase    string
		wantErr     bool
	}{
		{"default is sandbox", "", ledger.SandboxBaseURL, false},
		{"sandbox", "sandbox", ledger.SandboxBaseURL, false},
		{"production", "Production", ledger.ProductionBaseURL, false},
		{"unknown", "staging", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			viper.Set(KeyEnvironment, tt.environment)
			viper.Set(KeyRealmID, "12345")

			cfg, err := CreateLedgerConfig(nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error for unknown environment")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateLedgerConfig() error: %v", err)
			}
			if cfg.BaseURL != tt.wantBase {
				t.Errorf("BaseURL = %s, want %s", cfg.BaseURL, tt.wantBase)
			}
		})
	}
}

func TestCreateLedgerConfigOverrides(t *testing.T) {
	resetViper(t)
	viper.Set(KeyRealmID, "12345")
	viper.Set(KeyBaseURL, "http://localhost:9090")
	viper.Set(KeyMinorVersion, "80")
	viper.Set(KeyExpenseAcct, "55")
	viper.Set(KeyIncomeAcct, "56")

	cfg, err := CreateLedgerConfig(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BaseURL != "http://localhost:9090" {
		t.Errorf("BaseURL = %s, want the explicit override", cfg.BaseURL)
	}
	if cfg.MinorVersion != "80" {
		t.Errorf("MinorVersion = %s, want 80", cfg.MinorVersion)
	}
	if cfg.UncategorizedExpenseAccountID != "55" || cfg.UncategorizedIncomeAccountID != "56" {
		t.Errorf("account overrides not applied: %+v", cfg)
	}
}

func TestCreateLedgerConfigRequiresRealm(t *testing.T) {
	resetViper(t)

	if _, err := CreateLedgerConfig(nil); err == nil {
		t.Error("missing realm id should fail")
	}
}

func TestCreateMatcherConfig(t *testing.T) {
	if got := CreateMatcherConfig(-1).DateWindowDays; got != 3 {
		t.Errorf("default window = %d, want 3", got)
	}
	if got := CreateMatcherConfig(0).DateWindowDays; got != 0 {
		t.Errorf("zero tolerance = %d, want same-day only", got)
	}
	if got := CreateMatcherConfig(7).DateWindowDays; got != 7 {
		t.Errorf("override = %d, want 7", got)
	}
}

func TestCreateImporterConfig(t *testing.T) {
	if got := CreateImporterConfig(0).MaxInFlight; got != 4 {
		t.Errorf("default concurrency = %d, want 4", got)
	}
	if got := CreateImporterConfig(8).MaxInFlight; got != 8 {
		t.Errorf("override = %d, want 8", got)
	}
}

func TestCreateCSVMapping(t *testing.T) {
	mapping := CreateCSVMapping("", "", "", "")
	if mapping.DateColumn != "Date" || mapping.AmountColumn != "Amount" {
		t.Errorf("defaults not kept: %+v", mapping)
	}

	mapping = CreateCSVMapping("posted", "value", "payee", "chk")
	if mapping.DateColumn != "posted" || mapping.AmountColumn != "value" ||
		mapping.DescriptionColumn != "payee" || mapping.CheckNumberColumn != "chk" {
		t.Errorf("overrides not applied: %+v", mapping)
	}
}
