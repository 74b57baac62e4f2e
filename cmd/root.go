package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Conversly/whatsapp-gateway/internal/config"
	"github.com/Conversly/whatsapp-gateway/internal/controllers"
	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

var rootCmd = &cobra.Command{
	Use:           "whatsapp-gateway",
	Short:         "WhatsApp ingestion gateway",
	Long:          "Receives Evolution API webhooks, aggregates bursts of messages per sender and hands them to the AI backend.",
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("whatsapp-gateway %s\n", controllers.Version)
		},
	}
}

// loadConfig reads the environment and initialises the global logger.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, utils.InitLogger(cfg), nil
}
