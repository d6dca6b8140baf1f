package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Zrodkin/CharityPad123-sub001/internal/config"
)

var Version = "dev"

func main() {
	// Local overrides during development; absence is not an error.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "kioskd",
		Short:   "CharityPad kiosk daemon - merchant authorization and payment processing",
		Version: Version,
	}

	rootCmd.PersistentFlags().String("config", config.GetEnv("CONFIG_FILE", ""), "Path to config.yaml")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logoutCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
