package main

import (
	"fmt"
	"os"

	"github.com/telekom/oidc-session/pkg/cmd"
)

func main() {
	root := cmd.NewRootCommand(cmd.DefaultConfig())
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
