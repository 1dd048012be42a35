// Package shellcmd extracts the simple commands contained in a shell
// script so that each one can be checked against an allow list.
package shellcmd

import (
	"bytes"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// SimpleCommands parses script as bash and returns every simple command it
// would run, including commands nested in pipelines, lists, subshells and
// command substitutions. Words are printed back in normalized form, so
// "git   status" becomes "git status".
func SimpleCommands(script string) ([]string, error) {
	script = strings.TrimSpace(script)
	if script == "" {
		return nil, nil
	}
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(script), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse shell command: %w", err)
	}

	printer := syntax.NewPrinter()
	var (
		cmds    []string
		walkErr error
	)
	syntax.Walk(file, func(node syntax.Node) bool {
		if walkErr != nil {
			return false
		}
		switch n := node.(type) {
		case *syntax.CallExpr:
			if len(n.Args) == 0 {
				return true
			}
			words := make([]string, 0, len(n.Args))
			for _, w := range n.Args {
				var buf bytes.Buffer
				if err := printer.Print(&buf, w); err != nil {
					walkErr = fmt.Errorf("failed to print shell word: %w", err)
					return false
				}
				words = append(words, buf.String())
			}
			cmds = append(cmds, strings.Join(words, " "))
		case *syntax.FuncDecl:
			walkErr = fmt.Errorf("function declarations are not allowed: %s", n.Name.Value)
			return false
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return cmds, nil
}

// MatchGlob reports whether value matches pattern, where "*" matches any
// run of characters and every other character matches itself.
func MatchGlob(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	rest := value[len(parts[0]):]
	for _, mid := range parts[1 : len(parts)-1] {
		idx := strings.Index(rest, mid)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(mid):]
	}
	return strings.HasSuffix(rest, parts[len(parts)-1])
}
