package fx

import "k8s.io/klog/v2"

// ParamLifetimeTracer builds a graph while recording which nodes alias the
// storage of earlier nodes, so the lifetime of a parameter can be extended
// until every alias is dead.
type ParamLifetimeTracer struct {
	Graph *Graph

	reuse map[*Node][]*Node // node -> nodes aliasing it
}

// NewParamLifetimeTracer creates a tracer over a fresh graph.
func NewParamLifetimeTracer() *ParamLifetimeTracer {
	return &ParamLifetimeTracer{Graph: NewGraph(), reuse: make(map[*Node][]*Node)}
}

// CreateNode adds a node to the traced graph and records it as an alias of
// its arguments when target reuses its inputs.
func (tr *ParamLifetimeTracer) CreateNode(op Op, target *Target, args []*Node, name string) *Node {
	n := tr.Graph.CreateNode(op, target, args, name)
	if target != nil && ReusesInputs(target) {
		for _, a := range args {
			tr.reuse[a] = append(tr.reuse[a], n)
		}
	}
	return n
}

// Placeholder adds a graph input.
func (tr *ParamLifetimeTracer) Placeholder(name string) *Node {
	return tr.CreateNode(OpPlaceholder, nil, nil, name)
}

// CallFunction adds a call of target on args.
func (tr *ParamLifetimeTracer) CallFunction(target *Target, args []*Node, name string) *Node {
	return tr.CreateNode(OpCallFunction, target, args, name)
}

// Output adds the graph output.
func (tr *ParamLifetimeTracer) Output(result *Node) *Node {
	return tr.CreateNode(OpOutput, nil, []*Node{result}, "output")
}

// Aliases returns the nodes recorded as aliasing n.
func (tr *ParamLifetimeTracer) Aliases(n *Node) []*Node {
	return tr.reuse[n]
}

// CheckLifetime visits every transitive alias of node depth-first, aliases
// before the node they alias, and returns them in visiting order ending with
// node itself.
func (tr *ParamLifetimeTracer) CheckLifetime(node *Node) []*Node {
	var visited []*Node
	var visit func(n *Node)
	visit = func(n *Node) {
		for _, user := range tr.reuse[n] {
			visit(user)
		}
		klog.V(2).Infof("check lifetime of %s", n)
		visited = append(visited, n)
	}
	visit(node)
	return visited
}
