package net

import (
	"context"
	"fmt"
	"slices"

	"github.com/lcx/scosc/osc"
)

// Pattern is a message prefix: an address followed by leading arguments.
// Its elements are strings or numbers.
type Pattern []osc.Argument

// NewPattern builds a Pattern from Go values, normalizing them with
// osc.ToArgument.
func NewPattern(elems ...any) (Pattern, error) {
	if len(elems) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	p := make(Pattern, 0, len(elems))
	for i, e := range elems {
		arg, err := osc.ToArgument(e)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrInvalidPattern, i, err)
		}
		if _, ok := keyOf(arg); !ok {
			return nil, fmt.Errorf("%w: element %d is %T", ErrInvalidPattern, i, arg)
		}
		p = append(p, arg)
	}
	return p, nil
}

// MustPattern is like NewPattern but panics on error.
func MustPattern(elems ...any) Pattern {
	p, err := NewPattern(elems...)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	for i, arg := range p {
		if _, ok := keyOf(arg); !ok {
			return fmt.Errorf("%w: element %d is %T", ErrInvalidPattern, i, arg)
		}
	}
	return nil
}

// Message turns the pattern into a message, the form used for healthcheck
// probes.
func (p Pattern) Message() (*osc.Message, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	addr, err := osc.ToAddress(p[0])
	if err != nil {
		return nil, err
	}
	return &osc.Message{Address: addr, Arguments: slices.Clone(p[1:])}, nil
}

// Callback is a registration in the dispatch trie.
//
// Pattern and FailurePattern are independent paths to the same callback;
// a message matches when its address and leading arguments start with
// either. Exactly one of Procedure and AsyncProcedure is set. A Once
// callback is removed on its first match, before it runs.
type Callback struct {
	Pattern        Pattern
	FailurePattern Pattern
	Procedure      func(msg *osc.Message)
	AsyncProcedure func(ctx context.Context, msg *osc.Message) error
	Once           bool
}

func (cb *Callback) validate() error {
	if cb == nil || (cb.Procedure == nil && cb.AsyncProcedure == nil) {
		return ErrInvalidCallback
	}
	if err := cb.Pattern.validate(); err != nil {
		return err
	}
	if len(cb.FailurePattern) > 0 {
		return cb.FailurePattern.validate()
	}
	return nil
}

func (cb *Callback) patterns() []Pattern {
	if len(cb.FailurePattern) > 0 {
		return []Pattern{cb.Pattern, cb.FailurePattern}
	}
	return []Pattern{cb.Pattern}
}

// trieKey is a trie edge. Numbers compare by their float32 value so that 1,
// Int32(1) and Float32(1) share an edge.
type trieKey struct {
	str   string
	num   float64
	isNum bool
}

func keyOf(arg osc.Argument) (trieKey, bool) {
	switch a := arg.(type) {
	case osc.String:
		return trieKey{str: string(a)}, true
	case osc.Int32:
		return trieKey{num: float64(float32(a)), isNum: true}, true
	case osc.Float32:
		return trieKey{num: float64(a), isNum: true}, true
	case osc.Float64:
		return trieKey{num: float64(float32(a)), isNum: true}, true
	}
	return trieKey{}, false
}

type trieNode struct {
	callbacks []*Callback
	children  map[trieKey]*trieNode
}

// registry is the callback trie. It is not safe for concurrent use: each
// transport gives it exactly one owner.
type registry struct {
	root trieNode
}

func (r *registry) add(cb *Callback) {
	for _, p := range cb.patterns() {
		node := &r.root
		for _, arg := range p {
			key, _ := keyOf(arg)
			child := node.children[key]
			if child == nil {
				if node.children == nil {
					node.children = make(map[trieKey]*trieNode)
				}
				child = &trieNode{}
				node.children[key] = child
			}
			node = child
		}
		if !slices.Contains(node.callbacks, cb) {
			node.callbacks = append(node.callbacks, cb)
		}
	}
}

func (r *registry) remove(cb *Callback) {
	for _, p := range cb.patterns() {
		r.removePath(cb, p)
	}
}

func (r *registry) removePath(cb *Callback, p Pattern) {
	nodes := make([]*trieNode, 0, len(p)+1)
	keys := make([]trieKey, 0, len(p))
	node := &r.root
	nodes = append(nodes, node)
	for _, arg := range p {
		key, _ := keyOf(arg)
		child := node.children[key]
		if child == nil {
			return
		}
		keys = append(keys, key)
		nodes = append(nodes, child)
		node = child
	}
	if i := slices.Index(node.callbacks, cb); i >= 0 {
		node.callbacks = slices.Delete(node.callbacks, i, i+1)
	}
	for i := len(nodes) - 1; i > 0; i-- {
		n := nodes[i]
		if len(n.callbacks) > 0 || len(n.children) > 0 {
			break
		}
		delete(nodes[i-1].children, keys[i-1])
	}
}

// match walks the trie along the message's address and arguments and
// returns the callbacks of every visited node, shallow first. The walk stops
// at the first element without an edge. Matched Once callbacks are removed
// before match returns.
func (r *registry) match(msg *osc.Message) []*Callback {
	var matched []*Callback
	node := &r.root
	for _, arg := range msg.Path() {
		key, ok := keyOf(arg)
		if !ok {
			break
		}
		child := node.children[key]
		if child == nil {
			break
		}
		node = child
		for _, cb := range node.callbacks {
			if !slices.Contains(matched, cb) {
				matched = append(matched, cb)
			}
		}
	}
	for _, cb := range matched {
		if cb.Once {
			r.remove(cb)
		}
	}
	return matched
}

// size counts distinct registered callbacks.
func (r *registry) size() int {
	seen := make(map[*Callback]struct{})
	var walk func(n *trieNode)
	walk = func(n *trieNode) {
		for _, cb := range n.callbacks {
			seen[cb] = struct{}{}
		}
		for _, child := range n.children {
			walk(child)
		}
	}
	walk(&r.root)
	return len(seen)
}
