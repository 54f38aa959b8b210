package policy

import (
	"os"
	"path/filepath"
	"testing"
)

const validPolicyYAML = `allowed_contracts:
  - "0x1111111111111111111111111111111111111111"
  - "0x2222222222222222222222222222222222222222"
allowed_methods:
  - transfer
  - approve
max_transfer_amount: "100"
default_token_contract: "0x1111111111111111111111111111111111111111"
native_symbol: ETH
`

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	return path
}

func TestLoadPolicy(t *testing.T) {
	cfg, err := Load(writePolicy(t, validPolicyYAML))
	if err != nil {
		t.Fatalf("加载策略失败: %v", err)
	}
	if len(cfg.AllowedContracts) != 2 || len(cfg.AllowedMethods) != 2 {
		t.Fatalf("unexpected policy: %+v", cfg)
	}
	if cfg.MaxTransferAmount != "100" || cfg.NativeSymbol != "ETH" {
		t.Fatalf("unexpected policy fields: %+v", cfg)
	}
}

func TestLoadPolicyMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestValidateRejectsBadPolicies(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{
			name: "no contracts",
			cfg: Config{
				AllowedMethods:    []string{"transfer"},
				MaxTransferAmount: "100",
			},
		},
		{
			name: "invalid contract address",
			cfg: Config{
				AllowedContracts:  []string{"not-an-address"},
				AllowedMethods:    []string{"transfer"},
				MaxTransferAmount: "100",
			},
		},
		{
			name: "no methods",
			cfg: Config{
				AllowedContracts:  []string{"0x1111111111111111111111111111111111111111"},
				MaxTransferAmount: "100",
			},
		},
		{
			name: "unparsable limit",
			cfg: Config{
				AllowedContracts:  []string{"0x1111111111111111111111111111111111111111"},
				AllowedMethods:    []string{"transfer"},
				MaxTransferAmount: "lots",
			},
		},
		{
			name: "negative limit",
			cfg: Config{
				AllowedContracts:  []string{"0x1111111111111111111111111111111111111111"},
				AllowedMethods:    []string{"transfer"},
				MaxTransferAmount: "-5",
			},
		},
		{
			name: "default contract outside allowlist",
			cfg: Config{
				AllowedContracts:     []string{"0x1111111111111111111111111111111111111111"},
				AllowedMethods:       []string{"transfer"},
				MaxTransferAmount:    "100",
				DefaultTokenContract: "0x9999999999999999999999999999999999999999",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	if _, ok := parseAmount("12.5"); !ok {
		t.Fatalf("expected decimal amount to parse")
	}
	if _, ok := parseAmount(" 100 "); !ok {
		t.Fatalf("expected padded amount to parse")
	}
	if _, ok := parseAmount(""); ok {
		t.Fatalf("expected empty amount to fail")
	}
	if _, ok := parseAmount("-1"); ok {
		t.Fatalf("expected negative amount to fail")
	}
}
