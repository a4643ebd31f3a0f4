package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chatrelay/common"
	"chatrelay/logger"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

func main() {
	// Load .env file if any
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "Warning: failed to load .env file:", err)
		}
	}

	log.Logger = logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("chatrelay failed")
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "chatrelay",
		Usage: "Stream LLM chat completions over SSE, with optional MCP weather tools",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a config file (yaml, toml or json)",
				Sources: cli.EnvVars("CHATRELAY_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			NewRelayCommand(),
			NewGatewayCommand(),
			NewChatCommand(),
			NewAuthCommand(),
		},
	}
}

// loadConfig reads the layered configuration for the command being run.
func loadConfig(cmd *cli.Command) (common.Config, error) {
	cfg, err := common.LoadConfig(cmd.String("config"))
	if err != nil {
		return common.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
