package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/untoldecay/checkpoint/internal/config"
	"github.com/untoldecay/checkpoint/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print one key, or every key when none is given",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			key := args[0]
			if !config.IsKnownKey(key) {
				fmt.Fprintf(os.Stderr, "Error: unknown config key %q\n", key)
				os.Exit(exitConfig)
			}
			fmt.Println(config.GetString(key))
			return
		}
		for _, key := range config.SortedKeys() {
			fmt.Printf("%s = %s\n", key, config.GetString(key))
		}
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Validate and persist one key to the project config",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, raw := args[0], args[1]
		path := config.ProjectConfigPath()
		if path == "" {
			cwd, err := os.Getwd()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(exitConfig)
			}
			path = filepath.Join(cwd, ".checkpoint", "config.yaml")
		}
		if err := config.WriteKey(path, key, raw); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		fmt.Println(ui.Pass(fmt.Sprintf("%s = %s", key, raw)))
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the loaded configuration against the schema",
	Run: func(cmd *cobra.Command, args []string) {
		strict, _ := cmd.Flags().GetBool("strict")

		unknown := config.UnknownKeys()
		sort.Strings(unknown)
		for _, key := range unknown {
			fmt.Println(ui.Warn("unknown key: " + key))
		}

		bad := 0
		for _, key := range config.SortedKeys() {
			raw := config.GetString(key)
			if raw == "" {
				continue
			}
			if _, err := config.ValidateValue(key, raw); err != nil {
				fmt.Println(ui.Fail(err.Error()))
				bad++
			}
		}

		if bad > 0 || (strict && len(unknown) > 0) {
			os.Exit(exitConfig)
		}
		fmt.Println(ui.Pass("Configuration is valid"))
	},
}

var configMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Convert a flat key=value config file to YAML",
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		flat := filepath.Join(cwd, ".checkpoint", "config")
		yamlPath := filepath.Join(cwd, ".checkpoint", "config.yaml")
		if _, err := os.Stat(flat); err != nil {
			fmt.Println(ui.Muted("No flat config file to migrate"))
			return
		}
		if err := config.Migrate(flat, yamlPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		fmt.Println(ui.Pass("Migrated " + flat + " to " + yamlPath))
	},
}

func init() {
	configValidateCmd.Flags().Bool("strict", false, "Treat unknown keys as errors")
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configMigrateCmd)
	rootCmd.AddCommand(configCmd)
}
