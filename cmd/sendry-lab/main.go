package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/sendry-lab/internal/app"
	"github.com/foxzi/sendry-lab/internal/config"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sendry-lab",
	Short: "Sendry Lab - A/B testing and optimization engine",
	Long: `Sendry Lab generates message variants, monitors running A/B tests,
selects winners and recommends campaign optimizations for salon messaging.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine",
	Long:  `Start the HTTP API, the performance monitor and the scheduled jobs.`,
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sendry-lab version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (environment only when empty)")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

// loadConfig loads the configuration named by the -c flag
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  API: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Database: %s\n", cfg.Database.Path)
	fmt.Printf("  Action log: %s (retention %s)\n", cfg.ActionLog.Path, cfg.ActionLog.Retention)
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics: %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}
	fmt.Printf("  Email alerts: %t\n", cfg.EmailEnabled())
	fmt.Printf("  SMS alerts: %t\n", cfg.SMSEnabled())
	if cfg.Scheduler.Disabled {
		fmt.Printf("  Scheduler: disabled\n")
	} else {
		fmt.Printf("  Scheduler: winners every %s, optimizations every %s over %s\n",
			cfg.Scheduler.WinnerInterval, cfg.Scheduler.OptimizationInterval, cfg.Scheduler.OptimizationWindow)
	}

	return nil
}
