package transport

import (
	"sort"
	"strings"
	"sync"

	hrerr "hostrun/internal/errors"
	"hostrun/util"
)

// Factory builds a fresh, unconnected transport.
type Factory func(params Params, logger *util.Logger) (Transport, error)

// Registry maps protocol names to factories.  It is safe for
// concurrent use; lookups never mutate it.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name (case-insensitive).
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// Lookup returns the factory for name or an *errors.UnknownProtocolError.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok || f == nil {
		return nil, &hrerr.UnknownProtocolError{Protocol: name, Known: r.Names()}
	}
	return f, nil
}

// Names returns the registered protocol names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Protocol names with a built-in transport.
const (
	ProtocolPseudo = "pseudo"
	ProtocolDummy  = "dummy"
	ProtocolTelnet = "telnet"
	ProtocolSSH    = "ssh"
	ProtocolSSH2   = "ssh2"
)

var defaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ProtocolPseudo, func(p Params, l *util.Logger) (Transport, error) { return NewPseudo(p, l), nil })
	r.Register(ProtocolDummy, func(p Params, l *util.Logger) (Transport, error) { return NewDummy(p, l), nil })
	r.Register(ProtocolTelnet, func(p Params, l *util.Logger) (Transport, error) { return NewTelnet(p, l) })
	r.Register(ProtocolSSH, func(p Params, l *util.Logger) (Transport, error) { return NewSSH(p, l) })
	r.Register(ProtocolSSH2, func(p Params, l *util.Logger) (Transport, error) { return NewSSH(p, l) })
	return r
}

// Default returns the registry holding the built-in protocols.
func Default() *Registry { return defaultRegistry }

// Lookup resolves name against the default registry.
func Lookup(name string) (Factory, error) { return defaultRegistry.Lookup(name) }
