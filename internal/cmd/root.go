// Package cmd implements the rlmengine CLI: a root cobra command with
// "rlm" and "config" subcommands, matching the teacher's
// construct-a-root-and-register-subcommands layout.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rlmengine",
	Short: "Recursive Language Model execution engine",
	Long: `rlmengine drives the RLM iterative refinement loop: it extracts
code blocks from a task prompt, dispatches them to a sandboxed local or
cluster-scheduled REPL, optionally refines the running answer through
batched LLM calls, and folds the context once it grows past its budget.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("cluster-url", "http://127.0.0.1:8000", "base URL of the cluster control plane")
	rootCmd.AddCommand(rlmCmd, configCmd)
}

// Execute runs the root command; it is the single entrypoint called from
// cmd/rlmengine/main.go.
func Execute() error {
	return rootCmd.Execute()
}

// maybePrependStdin joins task with piped stdin content, if any was
// provided (i.e. stdin is not a terminal). task alone is returned
// unmodified when stdin is a terminal or empty.
func maybePrependStdin(task string) (string, error) {
	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return task, nil
	}

	piped, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	content := strings.TrimRight(string(piped), "\n")
	if content == "" {
		return task, nil
	}
	if task == "" {
		return content, nil
	}
	return content + "\n\n" + task, nil
}
