package core

import "strings"

func (r *Router) helpText(path []string) string {
	r.mu.RLock()
	root := r.root
	alias := r.alias
	r.mu.RUnlock()

	if len(path) == 0 {
		lines := []string{"📚 Commands (use /help <command> for details):"}
		for _, name := range root.childNames() {
			n, _ := root.child(name)
			line := "• /" + name
			if len(n.children) > 0 {
				line += " …"
			}
			if n.cmd != nil && n.cmd.Description != "" {
				line += " — " + n.cmd.Description
			} else if n.cmd == nil && len(n.children) > 0 {
				line += " — see /help " + name
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")
	}

	n := root.find(path)
	if n == nil {
		if len(path) == 1 {
			if leaf, ok := alias[path[0]]; ok && leaf != nil && leaf.cmd != nil {
				return r.helpText(strings.Fields(leaf.cmd.Route))
			}
		}
		return "Command not found. Try /help."
	}

	if n.cmd == nil {
		lines := []string{"📚 /" + strings.Join(path, " ") + " subcommands:"}
		for _, name := range n.childNames() {
			cn, _ := n.child(name)
			line := "• /" + strings.Join(path, " ") + " " + name
			if cn.cmd != nil && cn.cmd.Description != "" {
				line += " — " + cn.cmd.Description
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")
	}

	lines := []string{"📌 /" + n.cmd.Route}
	if n.cmd.Description != "" {
		lines = append(lines, n.cmd.Description)
	}
	if n.cmd.Usage != "" {
		lines = append(lines, "Usage: "+n.cmd.Usage)
	}
	if len(n.cmd.Aliases) > 0 {
		lines = append(lines, "Aliases: /"+strings.Join(n.cmd.Aliases, ", /"))
	}
	if len(n.children) > 0 {
		lines = append(lines, "Subcommands:")
		for _, name := range n.childNames() {
			cn, _ := n.child(name)
			line := "• " + name
			if cn.cmd != nil && cn.cmd.Description != "" {
				line += " — " + cn.cmd.Description
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
