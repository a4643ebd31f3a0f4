package main

import (
	"context"
	"fmt"

	"chatrelay/api"
	"chatrelay/common"
	"chatrelay/telemetry"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

func NewRelayCommand() *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "Run the chat relay server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port to listen on"},
			&cli.StringFlag{Name: "provider", Usage: "LLM provider: anthropic, openai, openai_compatible or google"},
			&cli.StringFlag{Name: "model", Usage: "Model name passed to the provider"},
			&cli.StringFlag{Name: "provider-base-url", Usage: "Override the provider API base URL"},
			&cli.StringFlag{Name: "tool-server-url", Usage: "MCP endpoint of the tool gateway; empty disables tools"},
		},
		Action: handleRelayCommand,
	}
}

func handleRelayCommand(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	applyRelayFlags(cmd, &cfg.Relay)
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	shutdown, err := telemetry.InitTracer(cfg.Telemetry, cfg.Relay.ServiceName)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to initialize telemetry: %v", err), 1)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	if err := api.RunServer(ctx, cfg.Relay); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func applyRelayFlags(cmd *cli.Command, relay *common.RelayConfig) {
	if cmd.IsSet("host") {
		relay.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		relay.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("provider") {
		relay.Provider = cmd.String("provider")
	}
	if cmd.IsSet("model") {
		relay.Model = cmd.String("model")
	}
	if cmd.IsSet("provider-base-url") {
		relay.ProviderBaseURL = cmd.String("provider-base-url")
	}
	if cmd.IsSet("tool-server-url") {
		relay.ToolServerURL = cmd.String("tool-server-url")
	}
}
