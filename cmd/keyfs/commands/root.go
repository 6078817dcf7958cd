// Package commands implements the keyfs command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/absfs/keyfs/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile    string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:   "keyfs",
	Short: "keyfs - per-file encrypted in-memory filesystem",
	Long: `keyfs mounts an in-memory filesystem whose file contents are encrypted
with AES-256, each file under its own key. Keys are registered through a
control socket while the filesystem is mounted; a file without a key can be
listed but not read or written.

Use "keyfs [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.config/keyfs/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "control socket (overrides control.socket)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(setKeyCmd)
	rootCmd.AddCommand(rotateKeyCmd)
	rootCmd.AddCommand(genkeyCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// loadConfig reads the configuration and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if socketPath != "" {
		cfg.Control.Socket = socketPath
	}
	return cfg, nil
}
