package fx

import (
	"fmt"

	"github.com/born-ml/ucp/internal/tensor"
)

// Interpreter executes a graph over tensors.
type Interpreter struct {
	graph *Graph
}

// NewInterpreter creates an interpreter for g.
func NewInterpreter(g *Graph) *Interpreter {
	return &Interpreter{graph: g}
}

// Run binds inputs to the placeholders in graph order and returns the value of
// the output node.
func (it *Interpreter) Run(inputs ...*tensor.RawTensor) (*tensor.RawTensor, error) {
	named := make(map[string]*tensor.RawTensor, len(inputs))
	i := 0
	for _, n := range it.graph.nodes {
		if n.Op != OpPlaceholder {
			continue
		}
		if i >= len(inputs) {
			return nil, fmt.Errorf("Run: missing input for placeholder %s", n.Name)
		}
		named[n.Name] = inputs[i]
		i++
	}
	if i != len(inputs) {
		return nil, fmt.Errorf("Run: %d inputs for %d placeholders", len(inputs), i)
	}
	return it.RunNamed(named)
}

// RunNamed binds inputs to placeholders by name and returns the value of the
// output node.
func (it *Interpreter) RunNamed(inputs map[string]*tensor.RawTensor) (*tensor.RawTensor, error) {
	env := make(map[*Node]*tensor.RawTensor, len(it.graph.nodes))
	for _, n := range it.graph.nodes {
		switch n.Op {
		case OpPlaceholder:
			v, ok := inputs[n.Name]
			if !ok {
				return nil, fmt.Errorf("RunNamed: missing input: %s", n.Name)
			}
			env[n] = v

		case OpCallFunction:
			args := make([]*tensor.RawTensor, len(n.Args))
			for i, a := range n.Args {
				v, ok := env[a]
				if !ok {
					return nil, fmt.Errorf("RunNamed: node %s: missing input %s", n.Name, a.Name)
				}
				args[i] = v
			}
			out, err := n.Target.Fn(args)
			if err != nil {
				return nil, fmt.Errorf("RunNamed: node %s (%s): %w", n.Name, n.Target, err)
			}
			env[n] = out

		case OpOutput:
			if len(n.Args) != 1 {
				return nil, fmt.Errorf("RunNamed: output takes 1 argument, got %d", len(n.Args))
			}
			return env[n.Args[0]], nil

		default:
			return nil, fmt.Errorf("RunNamed: unsupported op %q", n.Op)
		}
	}
	return nil, fmt.Errorf("RunNamed: no output node found")
}
