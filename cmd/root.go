// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/observability"
)

var (
	cfgFile string
	// v carries defaults, config file, env, and bound flags; commands that
	// bind their own flags re-read the config from it.
	v   *viper.Viper
	cfg *config.Config
)

// NewRootCommand builds the scout command tree. A fresh tree per invocation
// keeps flag state from leaking between runs in tests.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scout",
		Short: "Scout is an LLM-driven browser automation agent.",
		Long: `Scout drives a real browser through natural-language tasks. It observes
pages through the accessibility tree, asks a language model what to do
next, and performs the chosen action, recovering from overlays, stale
elements, and dead ends along the way.`,
		// Version is set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before every command, setting up config and logging.
			if err := initializeConfig(); err != nil {
				return err
			}

			loaded, err := config.NewConfigFromViper(v)
			if err != nil {
				// Fall back to a console logger so the failure is visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scout"})
				return err
			}
			cfg = loaded

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting scout", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./scout.yaml or ~/.scout/scout.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newLogsCmd())
	return rootCmd
}

// Execute runs the command tree under the given signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// GetLogger falls back to a development logger when the failure
		// happened before configuration, so the error is visible either way.
		observability.GetLogger().Error("Command failed", zap.Error(err))
		observability.Sync()
		return err
	}
	observability.Sync()
	return nil
}

// initializeConfig assembles the viper instance: defaults, then the config
// file if one exists, then SCOUT_* environment variables.
func initializeConfig() error {
	v = viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".scout"))
		}
		v.SetConfigName("scout")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars carry the run.
	}
	return nil
}
