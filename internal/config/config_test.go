package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Owner.Address = "0x00000000000000000000000000000000000000aa"
	cfg.Owner.Operators = []string{"0x00000000000000000000000000000000000000b1"}
	return cfg
}

func TestValidateAcceptsFilledDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "sideways"
	cfg.Engine.MaxLoanAmount = "not-a-number"
	cfg.Lender.FeeBps = 10000
	cfg.Routers = []RouterConfig{{Address: "0xbad", Kind: "cex"}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"mode", "max_loan_amount", "fee_bps", "routers[0]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidateRequiresKeyPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Owner.EncryptedKeyPath = "/keys/owner.json"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password") {
		t.Fatalf("Validate() = %v, want key_password error", err)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "engine"

[owner]
address = "0x00000000000000000000000000000000000000aa"

[engine]
max_loan_amount = "500000"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FLASHARB_ENGINE_MAX_LOAN_AMOUNT", "750000")
	t.Setenv("FLASHARB_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("FLASHARB_OWNER_OPERATORS", "0x00000000000000000000000000000000000000b1, 0x00000000000000000000000000000000000000b2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Mode != "engine" {
		t.Errorf("Mode = %q, want engine", cfg.Mode)
	}
	if cfg.Engine.MaxLoanAmount != "750000" {
		t.Errorf("MaxLoanAmount = %q, want env override 750000", cfg.Engine.MaxLoanAmount)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("Redis.Addr = %q, want env override", cfg.Redis.Addr)
	}
	if len(cfg.Owner.Operators) != 2 {
		t.Errorf("Operators = %v, want 2 entries", cfg.Owner.Operators)
	}
	// Untouched fields keep their defaults.
	if cfg.Postgres.Port != 5432 {
		t.Errorf("Postgres.Port = %d, want default 5432", cfg.Postgres.Port)
	}
}

func TestParseAmount(t *testing.T) {
	if n, err := ParseAmount("1000000000000000000"); err != nil || n.String() != "1000000000000000000" {
		t.Fatalf("ParseAmount big = %v, %v", n, err)
	}
	for _, bad := range []string{"", "  ", "-5", "1.5", "0x10"} {
		if _, err := ParseAmount(bad); err == nil {
			t.Errorf("ParseAmount(%q) = nil error, want failure", bad)
		}
	}
}
