// Package cli provides the command-line interface for feedrelay.
package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "feedrelay",
	Short: "Relay Reddit posts and comments by selected authors to Telegram",
	Long: "feedrelay polls a subreddit for new posts and comments written by an allowlist of authors " +
		"and forwards each one to every bound Telegram chat or forum topic.",
	SilenceUsage:      true,
	PersistentPreRunE: loadEnv,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "feedrelay %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./config.yaml", "path to config file (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with secrets; missing file is ignored")
	rootCmd.AddCommand(versionCmd, runCmd, bindingsCmd)
}

// loadEnv loads secrets from the dotenv file. Variables already present in
// the environment are not overridden.
func loadEnv(_ *cobra.Command, _ []string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
