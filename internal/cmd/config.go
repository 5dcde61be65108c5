package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rand/rlmengine/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	configShowCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	configShowCmd.Flags().BoolP("yaml", "y", false, "Output as YAML")

	configCmd.AddCommand(
		configShowCmd,
		configValidateCmd,
		configEnvCmd,
	)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Commands for inspecting the engine's RLM_-prefixed environment configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long:  "Display the current effective configuration after applying RLM_-prefixed environment overrides",
	Example: `
# Show config in human-readable format
rlmengine config show

# Show config as JSON
rlmengine config show --json

# Show config as YAML
rlmengine config show --yaml
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		asYAML, _ := cmd.Flags().GetBool("yaml")

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if asJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(cfg)
		}
		if asYAML {
			encoder := yaml.NewEncoder(os.Stdout)
			encoder.SetIndent(2)
			return encoder.Encode(cfg)
		}

		fmt.Println("Effective Configuration")
		fmt.Println("=======================")
		fmt.Println()
		fmt.Printf("  max_iterations:             %d\n", cfg.MaxIterations)
		fmt.Printf("  max_repl_output:            %d\n", cfg.MaxREPLOutput)
		fmt.Printf("  iteration_timeout:          %s\n", cfg.IterationTimeout)
		fmt.Printf("  max_context_length:         %d\n", cfg.MaxContextLength)
		fmt.Printf("  enable_context_folding:     %v\n", cfg.EnableContextFolding)
		fmt.Printf("  enable_parallel_batching:   %v\n", cfg.EnableParallelBatching)
		fmt.Printf("  batch_concurrency:          %d\n", cfg.BatchConcurrency)
		fmt.Printf("  batch_timeout:              %s\n", cfg.BatchTimeout)
		fmt.Printf("  max_recursion_depth:        %d\n", cfg.MaxRecursionDepth)
		fmt.Printf("  max_concurrent_agents:      %d\n", cfg.MaxConcurrentAgents)
		fmt.Printf("  conversation_cache_size:    %d\n", cfg.ConversationCacheSize)
		fmt.Printf("  health_check_interval:      %s\n", cfg.HealthCheckInterval)
		fmt.Printf("  health_failure_threshold:   %d\n", cfg.HealthFailureThreshold)
		fmt.Printf("  http_connect_timeout:       %s\n", cfg.HTTPConnectTimeout)
		fmt.Printf("  http_pool_max_idle_per_host: %d\n", cfg.HTTPPoolMaxIdlePerHost)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Check the RLM_-prefixed environment configuration for errors",
	Example: `
# Validate configuration
rlmengine config validate
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ Configuration error: %v\n", err)
			return err
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "✗ Configuration error: %v\n", err)
			return err
		}
		fmt.Println("✓ Configuration is valid")
		return nil
	},
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "List recognized environment variables",
	Long:  "Print every RLM_-prefixed environment variable the engine recognizes and whether it is currently set",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := []string{
			"RLM_MAX_ITERATIONS",
			"RLM_MAX_REPL_OUTPUT",
			"RLM_ITERATION_TIMEOUT",
			"RLM_MAX_CONTEXT_LENGTH",
			"RLM_ENABLE_CONTEXT_FOLDING",
			"RLM_ENABLE_PARALLEL_BATCHING",
			"RLM_BATCH_CONCURRENCY",
			"RLM_BATCH_TIMEOUT",
			"RLM_MAX_RECURSION_DEPTH",
			"RLM_MAX_CONCURRENT_AGENTS",
			"RLM_CONVERSATION_CACHE_SIZE",
			"RLM_HEALTH_CHECK_INTERVAL",
			"RLM_HEALTH_FAILURE_THRESHOLD",
			"RLM_HTTP_CONNECT_TIMEOUT",
			"RLM_HTTP_POOL_MAX_IDLE_PER_HOST",
		}
		for _, k := range keys {
			if v, ok := os.LookupEnv(k); ok {
				fmt.Printf("  %-32s = %s (set)\n", k, v)
			} else {
				fmt.Printf("  %-32s   (default)\n", k)
			}
		}
		return nil
	},
}
