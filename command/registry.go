// Package command maps textual commands onto profile and catalog
// operations and runs them on a worker pool.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"factorio-server-manager/domain"
	"factorio-server-manager/notify"
	"factorio-server-manager/profile"
)

// Context is what a handler runs with.
type Context struct {
	context.Context
	Session  *profile.Session
	Reporter *notify.Reporter
	Args     []string
}

// Arg returns the i-th argument or def.
func (c *Context) Arg(i int, def string) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return def
}

// Handler runs one command.
type Handler func(c *Context) error

// Unlimited is a MaxArgs value accepting any number of arguments.
const Unlimited = -1

// Descriptor describes one command: its path in the trie, arity and help.
type Descriptor struct {
	Path      []string
	Args      string
	MinArgs   int
	MaxArgs   int
	Help      string
	OwnerOnly bool
	Handler   Handler
}

// Name is the space-joined path.
func (d *Descriptor) Name() string { return strings.Join(d.Path, " ") }

// Usage renders the command line of d.
func (d *Descriptor) Usage(prefix string) string {
	if d.Args == "" {
		return prefix + d.Name()
	}
	return prefix + d.Name() + " " + d.Args
}

func (d *Descriptor) checkArity(n int) error {
	if n < d.MinArgs {
		return fmt.Errorf("%w: usage: %s", domain.ErrMissingArgument, d.Usage(""))
	}
	if d.MaxArgs != Unlimited && n > d.MaxArgs {
		return fmt.Errorf("%w: too many arguments, usage: %s", domain.ErrInvalidArgument, d.Usage(""))
	}
	return nil
}

type node struct {
	children map[string]*node
	desc     *Descriptor
}

func newNode() *node { return &node{children: make(map[string]*node)} }

// Registry is a trie of command descriptors keyed by path tokens.
type Registry struct {
	root *node
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{root: newNode()}
}

// Register adds d. Registering the same path twice panics.
func (r *Registry) Register(d Descriptor) {
	n := r.root
	for _, tok := range d.Path {
		child, ok := n.children[tok]
		if !ok {
			child = newNode()
			n.children[tok] = child
		}
		n = child
	}
	if n.desc != nil {
		panic("command registered twice: " + d.Name())
	}
	n.desc = &d
}

// Lookup finds the descriptor with the longest path prefixing tokens and
// returns it with the remaining tokens as arguments.
func (r *Registry) Lookup(tokens []string) (*Descriptor, []string, error) {
	n := r.root
	var best *Descriptor
	bestDepth := 0
	for i, tok := range tokens {
		child, ok := n.children[strings.ToLower(tok)]
		if !ok {
			break
		}
		n = child
		if n.desc != nil {
			best, bestDepth = n.desc, i+1
		}
	}
	if best != nil {
		return best, tokens[bestDepth:], nil
	}

	if len(tokens) == 0 {
		return nil, nil, fmt.Errorf("%w: empty command", domain.ErrMissingArgument)
	}
	if n != r.root && len(n.children) > 0 {
		return nil, nil, fmt.Errorf("%w: expected one of %s", domain.ErrMissingArgument, strings.Join(sortedKeys(n.children), ", "))
	}
	return nil, nil, fmt.Errorf("%w: unknown command %q, try help", domain.ErrInvalidArgument, strings.Join(tokens, " "))
}

// Descriptors lists every registered command sorted by name.
func (r *Registry) Descriptors() []*Descriptor {
	var out []*Descriptor
	var walk func(n *node)
	walk = func(n *node) {
		if n.desc != nil {
			out = append(out, n.desc)
		}
		for _, k := range sortedKeys(n.children) {
			walk(n.children[k])
		}
	}
	walk(r.root)
	return out
}

func sortedKeys(m map[string]*node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
