// Package cmd provides the CLI commands for contactguard.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seymr/contactguard/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "contactguard",
	Short: "contactguard - abuse mitigation for contact endpoints",
	Long: `contactguard sits in front of a contact/lead endpoint and throttles
clients per IP with escalating penalties: a normal window, a stricter
window for suspicious clients, and temporary bans.

Quick start:
  1. Create a config file: contactguard.yaml
  2. Run: contactguard start

Configuration:
  Config is loaded from contactguard.yaml in the current directory,
  $HOME/.contactguard/, or /etc/contactguard/.

  Environment variables can override config values with the CONTACTGUARD_ prefix.
  Example: CONTACTGUARD_REDIS_ADDR=127.0.0.1:6379

Commands:
  start       Start the server
  stop        Stop the running server
  client      Inspect, ban, unban or reset a client
  hash-key    Generate an Argon2id hash for the admin token
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./contactguard.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
