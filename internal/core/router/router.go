// Package router maps backend commands to their adapters.
package router

import (
	"fmt"
	"sort"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/core/adapter"
)

// Router is an immutable command to adapter table built once at startup.
type Router struct {
	routes map[core.Command]adapter.Adapter
}

// New builds a router. Only backend commands may be routed and every adapter
// must be non-nil.
func New(routes map[core.Command]adapter.Adapter) (*Router, error) {
	table := make(map[core.Command]adapter.Adapter, len(routes))
	for cmd, a := range routes {
		if cmd.Class() != core.ClassBackend {
			return nil, fmt.Errorf("command %s is not a backend command", cmd)
		}
		if a == nil {
			return nil, fmt.Errorf("command %s has no adapter", cmd)
		}
		table[cmd] = a
	}
	return &Router{routes: table}, nil
}

// Resolve returns the adapter for cmd. The boolean is false for unrouted commands.
func (r *Router) Resolve(cmd core.Command) (adapter.Adapter, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.routes[cmd]
	return a, ok
}

// Commands lists the routed commands in declaration order.
func (r *Router) Commands() []core.Command {
	if r == nil {
		return nil
	}
	cmds := make([]core.Command, 0, len(r.routes))
	for cmd := range r.routes {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i] < cmds[j] })
	return cmds
}

// FromSpecs builds adapters for every spec and routes them by command.
func FromSpecs(specs []adapter.Spec, opts adapter.Options) (*Router, error) {
	routes := make(map[core.Command]adapter.Adapter, len(specs))
	for _, spec := range specs {
		cmd := spec.CommandValue()
		if _, dup := routes[cmd]; dup {
			return nil, fmt.Errorf("command %s is served by more than one backend", cmd)
		}
		a, err := adapter.Build(spec, opts)
		if err != nil {
			return nil, err
		}
		routes[cmd] = a
	}
	return New(routes)
}
