package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/converge/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage configuration settings",
	Long: `Manage configuration settings stored in .converge/config.yaml.

Environment variables override the file: CONVERGE_REVIEW_MAX_ROUNDS,
CONVERGE_WORKER_BACKEND and so on (dots and dashes become underscores).

Keys:
  review.max-rounds     round limit for gates that set none (default 10)
  review.timeout        per-perspective worker timeout (default 5m)
  review.diff-base      ref branch gates diff against (default main)
  storage.backend       file | sqlite | mysql | memory (default file)
  storage.dsn           mysql DSN, or a sqlite path override
  storage.lock-timeout  file backend lock wait (default 30s)
  worker.backend        command | anthropic (default command)
  worker.command        command run per perspective, prompt on stdin (default "claude -p")
  worker.model          model for the anthropic backend
  worker.max-tokens     response limit for the anthropic backend
  worker.concurrency    workers in flight per round, 0 for all (default 0)
  gates.paths           extra directories searched for gate files`,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, value := args[0], args[1]
		if !config.IsKnownKey(key) {
			FatalErrorWithHint(fmt.Sprintf("unknown config key %q", key), "Run 'converge config --help' for the list of keys")
		}
		if err := config.ValidateValue(key, value); err != nil {
			FatalError("%v", err)
		}
		if err := config.SetYamlConfig(requireProjectDir(), key, value); err != nil {
			FatalError("%v", err)
		}
		if jsonOutput {
			outputJSON(map[string]string{"key": key, "value": value})
			return
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Set %s = %s\n", green("✓"), key, value)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		if !config.IsKnownKey(key) {
			FatalErrorWithHint(fmt.Sprintf("unknown config key %q", key), "Run 'converge config --help' for the list of keys")
		}
		value := configValue(key)
		if jsonOutput {
			outputJSON(map[string]interface{}{"key": key, "value": value})
			return
		}
		fmt.Println(value)
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration values",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		keys := config.KnownKeys()
		sort.Strings(keys)
		if jsonOutput {
			values := make(map[string]interface{}, len(keys))
			for _, k := range keys {
				values[k] = configValue(k)
			}
			outputJSON(values)
			return
		}
		if path := config.ConfigFileUsed(); path != "" {
			fmt.Printf("# %s\n", path)
		}
		for _, k := range keys {
			fmt.Printf("%s = %v\n", k, configValue(k))
		}
	},
}

func configValue(key string) interface{} {
	if key == config.KeyGatesPaths {
		return config.GetStringSlice(key)
	}
	return config.GetString(key)
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)
}
