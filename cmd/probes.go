package cmd

import (
	"fmt"
	"io"

	"crossbench/internal/probe/probes"
)

func describeProbes(w io.Writer, args []string) error {
	reg := probes.NewRegistry(nil)
	names := reg.Names()
	if len(args) == 1 {
		if _, ok := reg.Parser(args[0]); !ok {
			return fmt.Errorf("unknown probe %q", args[0])
		}
		names = []string{args[0]}
	}
	for i, name := range names {
		if i > 0 {
			fmt.Fprintln(w)
		}
		parser, _ := reg.Parser(name)
		fmt.Fprintf(w, "%s: %s\n", name, reg.Help(name))
		if desc := parser.Describe(); desc != "" {
			fmt.Fprint(w, desc)
		}
	}
	return nil
}
