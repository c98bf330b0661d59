// Package cli implements the ksef command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-ksef/internal/config"
	"github.com/sirosfoundation/go-ksef/internal/logger"
	"github.com/sirosfoundation/go-ksef/internal/version"
)

var (
	cfg       *config.Config
	appLogger *slog.Logger

	configPath  string
	logLevel    string
	environment string
	baseURL     string
)

var rootCmd = &cobra.Command{
	Use:               "ksef",
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
	Short:             "KSeF e-invoicing client",
	Long: `Client for the Polish National e-Invoice System (KSeF).

Authenticates with a qualified certificate or seal, submits FA(3) invoices
in online sessions and retrieves the official receipts (UPO).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if environment != "" {
			cfg.Environment = environment
		}
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		appLogger, err = logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}
		slog.SetDefault(appLogger)
		return nil
	},
}

// Execute runs the root command
func Execute() {
	v := version.Get()
	rootCmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("KSEF_CONFIG"), "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&environment, "env", "", "KSeF environment (production, test, demo)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "API root overriding the environment, e.g. a local mock server")

	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(certsCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(upoCmd)
	rootCmd.AddCommand(submissionsCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(mockServerCmd)
}
