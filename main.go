package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"insight_server/config"
	"insight_server/internal/bootstrap"
	"insight_server/pkg/logger"
)

var (
	version = "dev"
	cfg     *config.Config
	rootCmd = &cobra.Command{
		Use:               "insight",
		Short:             "Financial insights from a mailbox",
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
	}
)

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error), overrides LOG_LEVEL")
	rootCmd.PersistentFlags().Bool("pretty", false, "console log output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(cmd *cobra.Command, _ []string) error {
	// .env is optional (local development)
	envErr := godotenv.Load()

	loaded, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg = loaded

	level := cfg.LogLevel
	if flag, _ := cmd.Flags().GetString("log-level"); flag != "" {
		level = flag
	}
	pretty, _ := cmd.Flags().GetBool("pretty")

	logCfg := logger.Config{
		Level:   logger.ParseLevel(level),
		Service: "insight",
		Pretty:  pretty || cfg.IsDevelopment(),
	}
	// analyze writes the report to stdout
	if cmd.Name() == "analyze" {
		logCfg.Output = os.Stderr
	}
	logger.Init(logCfg)

	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrap.Serve(cmd.Context(), cfg)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
