package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const labInventory = `
[[account]]
name     = "netops"
password = "s3cret"
hosts    = ["core-*"]
sessions = 2

[[account]]
name = "lab"
key  = "/keys/lab"

[[host]]
address  = "core-sw1"
protocol = "telnet"
port     = 2323

[[host]]
address  = "fixtures/r1.toml"
protocol = "pseudo"
name     = "r1"
account  = "lab"

[[host]]
address = "ssh2://admin:pw@10.0.0.9"
`

func writeInventory(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inventory.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadInventory(t *testing.T) {
	inv, err := LoadInventory(writeInventory(t, labInventory))
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}

	pool := inv.PoolAccounts()
	if len(pool) != 2 {
		t.Fatalf("pool = %d accounts, want 2", len(pool))
	}
	if pool[0].Sessions != 2 || pool[1].Sessions != DefaultAccountSessions {
		t.Errorf("sessions = %d/%d", pool[0].Sessions, pool[1].Sessions)
	}
	if pool[1].KeyPath != "/keys/lab" {
		t.Errorf("KeyPath = %q", pool[1].KeyPath)
	}

	hosts, err := inv.Targets("ssh", pool)
	if err != nil {
		t.Fatalf("Targets: %v", err)
	}
	if len(hosts) != 3 {
		t.Fatalf("hosts = %d, want 3", len(hosts))
	}

	if h := hosts[0]; h.Protocol() != "telnet" || h.Port() != 2323 || h.Account() != nil {
		t.Errorf("host 0 = %s account=%v", h, h.Account())
	}
	if h := hosts[1]; h.Protocol() != "pseudo" || h.LogName() != "r1" || h.Account() != pool[1] {
		t.Errorf("host 1 = %s log=%s account=%v", h, h.LogName(), h.Account())
	}
	if h := hosts[2]; h.Protocol() != "ssh2" || h.Address() != "10.0.0.9" || h.Account() == nil || h.Account().Name != "admin" {
		t.Errorf("host 2 = %s account=%v", h, h.Account())
	}
}

func TestLoadInventory_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantSub string
	}{
		{"unknown key", "[[host]]\naddress = \"r1\"\nproto = \"ssh\"\n", "unknown key"},
		{"no address", "[[host]]\nname = \"r1\"\n", "has no address"},
		{"bad port", "[[host]]\naddress = \"r1\"\nport = 70000\n", "out of range"},
		{"unknown account", "[[host]]\naddress = \"r1\"\naccount = \"ghost\"\n", "unknown account"},
		{"duplicate account", "[[account]]\nname = \"a\"\n[[account]]\nname = \"a\"\n", "declared twice"},
		{"nameless account", "[[account]]\npassword = \"x\"\n", "has no name"},
		{"bad toml", "[[host]\n", "load inventory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadInventory(writeInventory(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantSub)
			}
		})
	}
}

func TestLoadInventory_Missing(t *testing.T) {
	if _, err := LoadInventory(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
