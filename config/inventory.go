package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"hostrun/internal/account"
	"hostrun/internal/host"
)

// Inventory is the file form of a batch.  Example:
//
//	[[account]]
//	name     = "netops"
//	password = "s3cret"
//	hosts    = ["core-*", "10.0.*"]
//	sessions = 4
//
//	[[host]]
//	address  = "core-sw1"
//	protocol = "telnet"
//
//	[[host]]
//	address  = "fixtures/r1.toml"
//	protocol = "pseudo"
//	name     = "r1"
//	account  = "netops"
//
// A host's address may also be a URL, as on the command line.
type Inventory struct {
	Accounts []InventoryAccount `toml:"account"`
	Hosts    []InventoryHost    `toml:"host"`
}

// InventoryAccount declares one pool account.
type InventoryAccount struct {
	Name     string   `toml:"name"`
	Password string   `toml:"password"`
	Key      string   `toml:"key"`
	Hosts    []string `toml:"hosts"`
	Sessions int      `toml:"sessions"`
}

// InventoryHost declares one target.
type InventoryHost struct {
	Address  string `toml:"address"`
	Protocol string `toml:"protocol"`
	Port     int    `toml:"port"`
	Name     string `toml:"name"`
	Account  string `toml:"account"`
}

// LoadInventory reads and checks an inventory file.
func LoadInventory(path string) (*Inventory, error) {
	var inv Inventory
	meta, err := toml.DecodeFile(path, &inv)
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load inventory %s: unknown key %q", path, undecoded[0].String())
	}
	if err := inv.validate(); err != nil {
		return nil, fmt.Errorf("load inventory %s: %w", path, err)
	}
	return &inv, nil
}

func (inv *Inventory) validate() error {
	names := make(map[string]bool, len(inv.Accounts))
	for i, a := range inv.Accounts {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return fmt.Errorf("account #%d has no name", i+1)
		}
		if names[name] {
			return fmt.Errorf("account %q declared twice", name)
		}
		if a.Sessions < 0 {
			return fmt.Errorf("account %q: sessions must not be negative", name)
		}
		names[name] = true
	}
	for i, h := range inv.Hosts {
		if strings.TrimSpace(h.Address) == "" {
			return fmt.Errorf("host #%d has no address", i+1)
		}
		if h.Port < 0 || h.Port > 65535 {
			return fmt.Errorf("host %s: port %d out of range 1-65535", h.Address, h.Port)
		}
		if h.Account != "" && !names[h.Account] {
			return fmt.Errorf("host %s: unknown account %q", h.Address, h.Account)
		}
	}
	return nil
}

// PoolAccounts converts the declared accounts for the coordinator.
func (inv *Inventory) PoolAccounts() []*account.Account {
	out := make([]*account.Account, 0, len(inv.Accounts))
	for _, a := range inv.Accounts {
		sessions := a.Sessions
		if sessions == 0 {
			sessions = DefaultAccountSessions
		}
		out = append(out, &account.Account{
			Name:     strings.TrimSpace(a.Name),
			Password: a.Password,
			KeyPath:  a.Key,
			Hosts:    a.Hosts,
			Sessions: sessions,
		})
	}
	return out
}

// Targets builds the host list.  Hosts naming an account get the
// matching entry of pool as their default.
func (inv *Inventory) Targets(defaultProtocol string, pool []*account.Account) ([]*host.Host, error) {
	byName := make(map[string]*account.Account, len(pool))
	for _, a := range pool {
		byName[a.Name] = a
	}

	out := make([]*host.Host, 0, len(inv.Hosts))
	for _, ih := range inv.Hosts {
		var opts []host.Option
		if ih.Protocol != "" {
			opts = append(opts, host.WithProtocol(ih.Protocol))
		}
		if ih.Port > 0 {
			opts = append(opts, host.WithPort(ih.Port))
		}
		if ih.Name != "" {
			opts = append(opts, host.WithName(ih.Name))
		}
		if a, ok := byName[ih.Account]; ok {
			opts = append(opts, host.WithAccount(a))
		}
		h, err := host.Parse(strings.TrimSpace(ih.Address), defaultProtocol, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
