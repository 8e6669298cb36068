package core

import "sort"

// cmdNode is one level of the command route tree. Inner nodes without a
// command act as containers that render help for their subcommands.
type cmdNode struct {
	path     []string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode {
	return &cmdNode{children: map[string]*cmdNode{}}
}

// add walks route, creating nodes as needed, and attaches c to the leaf.
func (n *cmdNode) add(route []string, c Command) *cmdNode {
	cur := n
	for i, tok := range route {
		child, ok := cur.children[tok]
		if !ok {
			child = &cmdNode{
				path:     append(append([]string(nil), route[:i]...), tok),
				children: map[string]*cmdNode{},
			}
			cur.children[tok] = child
		}
		cur = child
	}
	cc := c
	cur.cmd = &cc
	return cur
}

func (n *cmdNode) find(path []string) *cmdNode {
	cur := n
	for _, tok := range path {
		child, ok := cur.children[tok]
		if !ok {
			return nil
		}
		cur = child
	}
	return cur
}

func (n *cmdNode) child(name string) (*cmdNode, bool) {
	c, ok := n.children[name]
	return c, ok
}

func (n *cmdNode) childNames() []string {
	out := make([]string, 0, len(n.children))
	for name := range n.children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
