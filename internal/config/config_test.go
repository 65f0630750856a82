package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("ADMIN_ID", "42")
	t.Setenv("TELEGRAM_GROUP_INVITE_LINK", "https://t.me/+invite")
	t.Setenv("NOWPAYMENTS_API_KEY", "key")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.PaymentProvider != ProviderNowPayments {
		t.Errorf("provider = %q, want %q", cfg.PaymentProvider, ProviderNowPayments)
	}
	if got := cfg.PriceAmount.String(); got != "30" {
		t.Errorf("price = %s, want 30", got)
	}
	if cfg.SubscriptionPeriod() != 30*24*time.Hour {
		t.Errorf("period = %s", cfg.SubscriptionPeriod())
	}
	if cfg.PaymentTTL != 20*time.Minute {
		t.Errorf("payment ttl = %s", cfg.PaymentTTL)
	}
	if cfg.SweepInterval != 24*time.Hour || cfg.SweepInitialDelay != time.Minute {
		t.Errorf("sweep schedule = %s/%s", cfg.SweepInterval, cfg.SweepInitialDelay)
	}
	if !cfg.AdmitPartial {
		t.Error("partial payments should admit by default")
	}
	if cfg.OperatorID != 42 {
		t.Errorf("operator = %d", cfg.OperatorID)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PAYMENT_PROVIDER", "MANUAL")
	t.Setenv("USDT_WALLET_ADDRESS", "TXYZ")
	t.Setenv("MINIMUM_PAYMENT_USD", "49.90")
	t.Setenv("SUBSCRIPTION_DAYS", "7")
	t.Setenv("ADMIT_PARTIAL_PAYMENTS", "false")
	t.Setenv("SWEEP_INTERVAL", "6h")
	t.Setenv("METRICS_ALLOWED_CIDRS", "10.0.0.0/8, 127.0.0.1/32")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.PaymentProvider != ProviderManual {
		t.Errorf("provider = %q", cfg.PaymentProvider)
	}
	if cfg.PriceAmount.String() != "49.9" {
		t.Errorf("price = %s", cfg.PriceAmount)
	}
	if cfg.SubscriptionPeriod() != 7*24*time.Hour {
		t.Errorf("period = %s", cfg.SubscriptionPeriod())
	}
	if cfg.AdmitPartial {
		t.Error("partial payments should not admit")
	}
	if cfg.SweepInterval != 6*time.Hour {
		t.Errorf("sweep interval = %s", cfg.SweepInterval)
	}
	if len(cfg.MetricsAllowedCIDRs) != 2 || cfg.MetricsAllowedCIDRs[1] != "127.0.0.1/32" {
		t.Errorf("cidrs = %v", cfg.MetricsAllowedCIDRs)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing operator",
			env:     map[string]string{"ADMIN_ID": ""},
			wantErr: "OperatorID",
		},
		{
			name:    "malformed operator",
			env:     map[string]string{"ADMIN_ID": "admin"},
			wantErr: "ADMIN_ID",
		},
		{
			name:    "manual provider without wallet",
			env:     map[string]string{"PAYMENT_PROVIDER": "manual"},
			wantErr: "WalletAddress",
		},
		{
			name:    "unknown provider",
			env:     map[string]string{"PAYMENT_PROVIDER": "paypal"},
			wantErr: "PaymentProvider",
		},
		{
			name:    "zero price",
			env:     map[string]string{"MINIMUM_PAYMENT_USD": "0"},
			wantErr: "must be positive",
		},
		{
			name:    "bad duration",
			env:     map[string]string{"PAYMENT_TTL": "twenty"},
			wantErr: "PAYMENT_TTL",
		},
		{
			name:    "bad cidr",
			env:     map[string]string{"METRICS_ALLOWED_CIDRS": "10.0.0.0"},
			wantErr: "MetricsAllowedCIDRs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
