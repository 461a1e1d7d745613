package fx

import "slices"

// AddPostprocess inserts a call of fn on node right after node and makes every
// other consumer of node read the new node instead. It returns the new node.
func AddPostprocess(g *Graph, node *Node, fn *Target, name string) *Node {
	defer g.InsertingAfter(node)()

	users := node.Users()
	post := g.CallFunction(fn, []*Node{node}, name)
	for _, u := range users {
		if u != post {
			u.ReplaceInputWith(node, post)
		}
	}
	return post
}

// AddDependencyOnParams sets RequiredInputs on every node of g: the params
// whose storage one of the node's arguments may alias. Aliasing starts at each
// param placeholder and propagates through targets that reuse their inputs.
func AddDependencyOnParams(g *Graph, params []*Node) {
	var order []*Node // params in the order they are seen
	aliases := make(map[*Node][]*Node)
	inAliases := func(param, n *Node) bool { return slices.Contains(aliases[param], n) }

	for _, n := range g.nodes {
		switch {
		case n.Op == OpCallFunction && ReusesInputs(n.Target):
			for _, a := range n.Args {
				for _, p := range order {
					if inAliases(p, a) && !inAliases(p, n) {
						aliases[p] = append(aliases[p], n)
					}
				}
			}
		case n.Op == OpPlaceholder && slices.Contains(params, n):
			order = append(order, n)
			aliases[n] = append(aliases[n], n)
		}

		n.RequiredInputs = nil
		for _, p := range order {
			if slices.ContainsFunc(n.Args, func(a *Node) bool { return inAliases(p, a) }) {
				n.RequiredInputs = append(n.RequiredInputs, p)
			}
		}
	}
}
