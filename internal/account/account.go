// Package account models credentials and the coordinator that hands
// them out.
//
// A [Manager] owns the account pool on a single goroutine.  Each host
// action talks to it through its own [Pipe], a close-once coordination
// channel that returns every lease taken through it when closed.  A
// [Proxy] is the lazy handle an action builds for one login: building
// it never blocks, acquiring it asks the coordinator.
package account

import (
	"path"
	"strings"
)

// Account is a credential usable to authenticate a connection.
type Account struct {
	Name     string
	Password string
	KeyPath  string

	// Hosts restricts the account to matching host addresses
	// (path.Match patterns such as "10.0.*" or "core-*").  Empty means
	// any host.
	Hosts []string

	// Sessions caps concurrent leases while the account sits in a
	// coordinator pool.  Zero means one.
	Sessions int
}

// ValidFor reports whether the account may be used for address.
func (a *Account) ValidFor(address string) bool {
	if len(a.Hosts) == 0 {
		return true
	}
	host := strings.ToLower(address)
	for _, pattern := range a.Hosts {
		if ok, err := path.Match(strings.ToLower(pattern), host); err == nil && ok {
			return true
		}
	}
	return false
}

func (a *Account) sessionLimit() int {
	if a.Sessions <= 0 {
		return 1
	}
	return a.Sessions
}

func (a *Account) String() string {
	if a == nil {
		return "<none>"
	}
	return a.Name
}
