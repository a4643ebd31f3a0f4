package main

import (
	"context"
	"fmt"

	"chatrelay/common"
	"chatrelay/mcp"
	"chatrelay/telemetry"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

const gatewayServiceName = "weather-mcp"

func NewGatewayCommand() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "Run the MCP weather tool gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port to listen on"},
			&cli.StringFlag{Name: "weather-api-base-url", Usage: "National Weather Service API base URL"},
			&cli.BoolFlag{Name: "json-response", Usage: "Answer JSON-RPC posts with plain JSON instead of an event stream"},
		},
		Action: handleGatewayCommand,
	}
}

func handleGatewayCommand(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	applyGatewayFlags(cmd, &cfg.Gateway)
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	shutdown, err := telemetry.InitTracer(cfg.Telemetry, gatewayServiceName)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to initialize telemetry: %v", err), 1)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	if err := mcp.RunServer(ctx, cfg.Gateway, gatewayServiceName); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func applyGatewayFlags(cmd *cli.Command, gateway *common.GatewayConfig) {
	if cmd.IsSet("host") {
		gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		gateway.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("weather-api-base-url") {
		gateway.WeatherAPIBaseURL = cmd.String("weather-api-base-url")
	}
	if cmd.IsSet("json-response") {
		gateway.JSONResponse = cmd.Bool("json-response")
	}
}
