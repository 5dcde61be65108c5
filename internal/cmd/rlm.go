package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rand/rlmengine/internal/app"
	"github.com/rand/rlmengine/internal/config"
	rlmctx "github.com/rand/rlmengine/internal/rlm/context"
	"github.com/rand/rlmengine/internal/rlm/parser"
	"github.com/spf13/cobra"
)

var rlmCmd = &cobra.Command{
	Use:   "rlm [task...]",
	Short: "Run a task through the RLM iterative refinement loop",
	Long: `Run a task through the RLM (Recursive Language Model) execution engine.

Each iteration extracts language-tagged code blocks from the running answer,
dispatches them to a sandboxed local REPL or a scheduled cluster device,
and folds the answer once it exceeds the configured context budget. The
loop stops once the answer contains no code blocks or max_iterations is
reached. Executed blocks stay in the answer, so a task that contains code
blocks runs them again on every iteration until max_iterations.

The task can be provided as arguments or piped from stdin.`,
	Example: `
# Execute a task that contains a fenced code block
rlmengine rlm $'` + "```python\\nprint(6*7)\\n```" + `'

# Pipe a task from stdin
cat task.md | rlmengine rlm

# Show engine statistics instead of running a task
rlmengine rlm --stats
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		showStats, _ := cmd.Flags().GetBool("stats")
		quiet, _ := cmd.Flags().GetBool("quiet")
		clusterURL, _ := cmd.Flags().GetString("cluster-url")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		a, err := app.New(cfg, clusterURL)
		if err != nil {
			return fmt.Errorf("initialize engine: %w", err)
		}
		defer a.Shutdown()

		if showStats {
			status := a.ClusterStatus()
			fmt.Printf("Cluster Status:\n")
			fmt.Printf("  Total:               %d\n", status.Total)
			fmt.Printf("  Healthy:             %d\n", status.Healthy)
			fmt.Printf("  Unhealthy:           %d\n", status.Unhealthy)
			fmt.Printf("  Avg Response (ms):   %.1f\n", status.AverageResponseTimeMS)

			fmt.Printf("\nScheduler Stats:\n")
			for kind, avg := range a.SchedulerStats() {
				fmt.Printf("  %-22s %s\n", kind, avg)
			}
			return nil
		}

		task := strings.Join(args, " ")
		task, err = maybePrependStdin(task)
		if err != nil {
			return err
		}
		if task == "" {
			return fmt.Errorf("no task provided")
		}

		if !quiet {
			fmt.Fprintf(os.Stderr, "Running RLM task...\n")
		}

		start := time.Now()
		taskID := fmt.Sprintf("cli-%d", start.UnixNano())
		answer, err := a.ExecuteWithRefinement(ctx, task, taskID, readyWhenNoCodeBlocksRemain, nil)
		if err != nil {
			return fmt.Errorf("RLM execution failed: %w", err)
		}

		fmt.Println(answer)

		if !quiet {
			fmt.Fprintf(os.Stderr, "\nDuration: %s\n", time.Since(start))
		}
		return nil
	},
}

func init() {
	rlmCmd.Flags().BoolP("stats", "s", false, "Show cluster/scheduler statistics only")
	rlmCmd.Flags().BoolP("quiet", "q", false, "Suppress progress output")
}

// readyWhenNoCodeBlocksRemain is the default termination predicate for the
// CLI: stop once the running answer contains no fenced code blocks.
// Executed blocks are not removed from the answer, so for a task that
// contains code this stays false and the loop runs to max_iterations.
func readyWhenNoCodeBlocksRemain(ec *rlmctx.Context) bool {
	return len(parser.Extract(ec.Answer)) == 0
}
