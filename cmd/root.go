package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/internal/config"
	"github.com/xkilldash9x/plotweave/internal/observability"
	"github.com/xkilldash9x/plotweave/internal/service"
)

type contextKey string

const configKey contextKey = "config"

// componentFactory builds the engine for each command. Tests replace it.
var componentFactory service.ComponentFactory = service.NewComponentFactory()

// NewRootCommand builds a fresh command tree. Each call is independent, so
// the interactive shell can run one command per line without flag leakage.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "plotweave",
		Short:         "plotweave builds and plays branching narrative graphs.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			if err := bindOverrides(cmd, v); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "plotweave"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting plotweave", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("storage", "", "storage driver override: memory, sqlite or postgres")
	rootCmd.PersistentFlags().String("generator", "", "content generator override: offline or llm")
	rootCmd.PersistentFlags().StringP("project", "p", "", "project ID the command operates on")
	rootCmd.SetVersionTemplate(`{{printf "plotweave version %s\n" .Version}}`)

	rootCmd.AddCommand(
		newProjectCmd(),
		newBootstrapCmd(),
		newNodeCmd(),
		newActionCmd(),
		newEventCmd(),
		newConnectCmd(),
		newBranchCmd(),
		newPlayCmd(),
		newHistoryCmd(),
		newValidateCmd(),
		newOverviewCmd(),
		newConnectionsCmd(),
		newExportCmd(),
		newImportCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree with ctx, which should be signal aware.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
			observability.GetLogger().Debug("Command execution failed", zap.Error(err))
		}
		return err
	}
	return nil
}

// initializeConfig reads the config file and PLOTWEAVE_* environment
// variables into v. A missing default config file is not an error.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PLOTWEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// bindOverrides applies persistent flags that map onto config keys. Only
// flags the user actually set take precedence over file and environment.
func bindOverrides(cmd *cobra.Command, v *viper.Viper) error {
	overrides := map[string]string{
		"storage":   "storage.driver",
		"generator": "generator.provider",
	}
	for flag, key := range overrides {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// configFrom returns the configuration loaded by the root command.
func configFrom(cmd *cobra.Command) (config.Interface, error) {
	cfg, ok := cmd.Context().Value(configKey).(config.Interface)
	if !ok {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

// withEngine builds the engine, runs fn and shuts everything down.
func withEngine(cmd *cobra.Command, fn func(c *service.Components) error) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	components, err := componentFactory.Create(cmd.Context(), cfg, observability.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer components.Shutdown()
	return fn(components)
}

// requireProject returns the --project flag or an error naming it.
func requireProject(cmd *cobra.Command) (string, error) {
	pid, _ := cmd.Flags().GetString("project")
	if pid == "" {
		return "", fmt.Errorf("required flag \"project\" not set")
	}
	return pid, nil
}
