package main

import (
	"fmt"
	"os"

	"github.com/example/answer-engagement/services/engagement/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
