// Command rlmengine is the CLI entrypoint for the RLM execution engine.
package main

import (
	"fmt"
	"os"

	"github.com/rand/rlmengine/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
