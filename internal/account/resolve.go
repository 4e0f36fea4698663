package account

import "fmt"

// Kind is the request shape a proxy sends to the coordinator.
type Kind int

const (
	// ForAccount asks for one specific account.
	ForAccount Kind = iota
	// ForHost lets the coordinator pick an account valid for a host.
	ForHost
)

func (k Kind) String() string {
	switch k {
	case ForAccount:
		return "for-account"
	case ForHost:
		return "for-host"
	default:
		return "unknown"
	}
}

// Source records which rule of the resolution table fired.
type Source int

const (
	SourceExplicit Source = iota
	SourceHostDefault
	SourceCoordinator
)

func (s Source) String() string {
	switch s {
	case SourceExplicit:
		return "explicit"
	case SourceHostDefault:
		return "host-default"
	case SourceCoordinator:
		return "coordinator"
	default:
		return "unknown"
	}
}

// Resolution describes how an account will be obtained.  It is plain
// data; nothing has been asked of the coordinator yet.
type Resolution struct {
	Kind    Kind
	Source  Source
	Account *Account // set for ForAccount
	Host    string   // set for ForHost
}

func (r Resolution) String() string {
	if r.Kind == ForAccount {
		return fmt.Sprintf("%s(%s) via %s", r.Kind, r.Account, r.Source)
	}
	return fmt.Sprintf("%s(%s) via %s", r.Kind, r.Host, r.Source)
}

// Resolve applies the account precedence: an explicitly requested
// account, then the host's default account, then whatever the
// coordinator assigns for hostAddress.
func Resolve(requested, hostDefault *Account, hostAddress string) Resolution {
	switch {
	case requested != nil:
		return Resolution{Kind: ForAccount, Source: SourceExplicit, Account: requested}
	case hostDefault != nil:
		return Resolution{Kind: ForAccount, Source: SourceHostDefault, Account: hostDefault}
	default:
		return Resolution{Kind: ForHost, Source: SourceCoordinator, Host: hostAddress}
	}
}
