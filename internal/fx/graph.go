// Package fx is a small computation-graph IR with passes used when compiling
// training steps.
//
// A Graph is an ordered list of nodes. Every node is either a placeholder (a
// graph input), a call to a target function, or the single output. Nodes keep
// track of their users so passes can rewire consumers in place:
//
//	g := fx.NewGraph()
//	w := g.Placeholder("w")
//	wt := g.CallFunction(fx.Transpose, []*fx.Node{w}, "")
//	g.Output(wt)
//
//	fx.AddDependencyOnParams(g, []*fx.Node{w})
//	// wt.RequiredInputs == [w]: wt aliases w's storage.
package fx

import (
	"fmt"
	"slices"
	"strings"

	"github.com/born-ml/ucp/internal/tensor"
)

// Op is the kind of a node.
type Op string

// Node kinds.
const (
	OpPlaceholder  Op = "placeholder"
	OpCallFunction Op = "call_function"
	OpOutput       Op = "output"
)

// Func computes a call_function node from the values of its arguments.
type Func func(args []*tensor.RawTensor) (*tensor.RawTensor, error)

// Target is the function called by a call_function node.
// Targets are compared by identity.
type Target struct {
	Name string
	Fn   Func
}

func (t *Target) String() string { return t.Name }

// Node is one operation in a Graph.
type Node struct {
	Name   string
	Op     Op
	Target *Target // call_function only
	Args   []*Node

	// RequiredInputs lists the parameter placeholders whose storage this node's
	// inputs may alias. Set by AddDependencyOnParams.
	RequiredInputs []*Node

	graph *Graph
	users []*Node
}

// Users returns the nodes consuming n, in the order they started using it.
func (n *Node) Users() []*Node { return slices.Clone(n.users) }

// Graph returns the graph owning n, or nil after it was erased.
func (n *Node) Graph() *Graph { return n.graph }

// ReplaceInputWith makes n consume replacement wherever it consumed old.
func (n *Node) ReplaceInputWith(old, replacement *Node) {
	replaced := false
	for i, a := range n.Args {
		if a == old {
			n.Args[i] = replacement
			replaced = true
		}
	}
	if !replaced {
		return
	}
	old.removeUser(n)
	replacement.addUser(n)
}

func (n *Node) addUser(u *Node) {
	if !slices.Contains(n.users, u) {
		n.users = append(n.users, u)
	}
}

func (n *Node) removeUser(u *Node) {
	if slices.Contains(u.Args, n) {
		return // still consumed through another argument
	}
	n.users = slices.DeleteFunc(n.users, func(x *Node) bool { return x == u })
}

func (n *Node) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%%%s = %s", n.Name, n.Op)
	if n.Target != nil {
		fmt.Fprintf(&b, "[%s]", n.Target)
	}
	b.WriteByte('(')
	for i, a := range n.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("%" + a.Name)
	}
	b.WriteByte(')')
	return b.String()
}

// Graph is an ordered list of nodes.
type Graph struct {
	nodes []*Node
	names map[string]bool

	// insertAfter is where CreateNode places new nodes; nil appends.
	insertAfter *Node
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{names: make(map[string]bool)}
}

// Nodes returns the nodes in execution order.
func (g *Graph) Nodes() []*Node { return slices.Clone(g.nodes) }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// InsertingAfter makes CreateNode insert right after n, each new node following
// the previous one. Call the returned function to restore the previous
// insertion point:
//
//	defer g.InsertingAfter(n)()
func (g *Graph) InsertingAfter(n *Node) func() {
	prev := g.insertAfter
	g.insertAfter = n
	return func() { g.insertAfter = prev }
}

// CreateNode adds a node at the current insertion point and registers it as a
// user of its arguments. An empty name is derived from the target or op and
// made unique.
func (g *Graph) CreateNode(op Op, target *Target, args []*Node, name string) *Node {
	n := &Node{
		Name:   g.uniqueName(name, op, target),
		Op:     op,
		Target: target,
		Args:   slices.Clone(args),
		graph:  g,
	}
	for _, a := range n.Args {
		a.addUser(n)
	}

	idx := len(g.nodes)
	if g.insertAfter != nil {
		if i := g.index(g.insertAfter); i >= 0 {
			idx = i + 1
		}
		g.insertAfter = n
	}
	g.nodes = slices.Insert(g.nodes, idx, n)
	return n
}

// Placeholder adds a graph input.
func (g *Graph) Placeholder(name string) *Node {
	return g.CreateNode(OpPlaceholder, nil, nil, name)
}

// CallFunction adds a call of target on args.
func (g *Graph) CallFunction(target *Target, args []*Node, name string) *Node {
	return g.CreateNode(OpCallFunction, target, args, name)
}

// Output adds the graph output.
func (g *Graph) Output(result *Node) *Node {
	return g.CreateNode(OpOutput, nil, []*Node{result}, "output")
}

// EraseNode removes n from the graph. n must have no users.
func (g *Graph) EraseNode(n *Node) error {
	if n.graph != g {
		return fmt.Errorf("EraseNode: %s is not in this graph", n.Name)
	}
	if len(n.users) > 0 {
		return fmt.Errorf("EraseNode: %s still has %d users", n.Name, len(n.users))
	}
	i := g.index(n)
	g.nodes = slices.Delete(g.nodes, i, i+1)
	for _, a := range n.Args {
		a.users = slices.DeleteFunc(a.users, func(x *Node) bool { return x == n })
	}
	if g.insertAfter == n {
		g.insertAfter = nil
	}
	delete(g.names, n.Name)
	n.graph = nil
	return nil
}

// Lint checks the graph invariants: unique names, arguments defined before
// use, consistent user lists and at most one output.
func (g *Graph) Lint() error {
	seen := make(map[*Node]bool, len(g.nodes))
	names := make(map[string]bool, len(g.nodes))
	outputs := 0
	for _, n := range g.nodes {
		if n.graph != g {
			return fmt.Errorf("Lint: %s belongs to another graph", n.Name)
		}
		if names[n.Name] {
			return fmt.Errorf("Lint: duplicate node name %s", n.Name)
		}
		names[n.Name] = true
		if n.Op == OpOutput {
			outputs++
		}
		if n.Op == OpCallFunction && n.Target == nil {
			return fmt.Errorf("Lint: %s has no target", n.Name)
		}
		for _, a := range n.Args {
			if !seen[a] {
				return fmt.Errorf("Lint: %s uses %s before it is defined", n.Name, a.Name)
			}
			if !slices.Contains(a.users, n) {
				return fmt.Errorf("Lint: %s is missing user %s", a.Name, n.Name)
			}
		}
		for _, u := range n.users {
			if !slices.Contains(u.Args, n) {
				return fmt.Errorf("Lint: %s lists %s as user but is not its argument", n.Name, u.Name)
			}
		}
		seen[n] = true
	}
	if outputs > 1 {
		return fmt.Errorf("Lint: %d output nodes", outputs)
	}
	return nil
}

// OutputNode returns the output node of g.
func OutputNode(g *Graph) (*Node, error) {
	for _, n := range g.nodes {
		if n.Op == OpOutput {
			return n, nil
		}
	}
	return nil, fmt.Errorf("OutputNode: no output node found")
}

func (g *Graph) index(n *Node) int {
	return slices.Index(g.nodes, n)
}

func (g *Graph) uniqueName(name string, op Op, target *Target) string {
	if name == "" {
		name = string(op)
		if target != nil {
			name = strings.ReplaceAll(target.Name, ".", "_")
		}
	}
	candidate := name
	for i := 1; g.names[candidate]; i++ {
		candidate = fmt.Sprintf("%s_%d", name, i)
	}
	g.names[candidate] = true
	return candidate
}

// String renders the graph one node per line.
func (g *Graph) String() string {
	lines := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		lines[i] = n.String()
	}
	return strings.Join(lines, "\n")
}
