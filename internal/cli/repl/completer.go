package repl

import (
	"sort"
	"strings"
)

// builtins are always offered.
var builtins = []string{"exit", "quit", "history"}

// Completer suggests command paths such as "tenant reset-cursor".
type Completer struct {
	commands []string
}

// NewCompleter creates a Completer over space separated command paths.
func NewCompleter(commands []string) *Completer {
	all := make([]string, 0, len(commands)+len(builtins))
	all = append(all, commands...)
	all = append(all, builtins...)
	sort.Strings(all)
	return &Completer{commands: all}
}

// Complete returns the commands starting with prefix. An empty prefix
// lists the top level only.
func (c *Completer) Complete(prefix string) []string {
	prefix = strings.Join(strings.Fields(prefix), " ")
	var out []string
	for _, cmd := range c.commands {
		if prefix == "" {
			if !strings.Contains(cmd, " ") {
				out = append(out, cmd)
			}
			continue
		}
		if strings.HasPrefix(cmd, prefix) && cmd != prefix {
			out = append(out, cmd)
		}
	}
	return out
}
