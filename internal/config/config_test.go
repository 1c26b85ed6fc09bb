package config

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got, want := c.ProxyAddress(), "127.0.0.1:8100"; got != want {
		t.Errorf("ProxyAddress() = %q, want %q", got, want)
	}
	if got, want := c.AdminAddress(), ":8299"; got != want {
		t.Errorf("AdminAddress() = %q, want %q", got, want)
	}
	if c.BlockingDisabled() {
		t.Error("BlockingDisabled() = true, want false by default")
	}
	if len(c.ExcludedHosts()) != 0 {
		t.Errorf("ExcludedHosts() = %v, want empty", c.ExcludedHosts())
	}
}

func TestBindFlags_OverridesDefault(t *testing.T) {
	t.Parallel()

	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := c.BindFlags(fs, ProxyOptions); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	if err := fs.Parse([]string{"--address", "0.0.0.0:9000"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got, want := c.ProxyAddress(), "0.0.0.0:9000"; got != want {
		t.Errorf("ProxyAddress() = %q, want %q", got, want)
	}
}

func TestToFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key  string
		want string
	}{
		{"proxy.ca_cert_path", "ca-cert-path"},
		{"proxy.address", "address"},
		{"admin.cors_origins", "cors-origins"},
	}

	for _, tt := range tests {
		if got := toFlag(tt.key); got != tt.want {
			t.Errorf("toFlag(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
