package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatrelay/client"
	"chatrelay/llm"

	"github.com/urfave/cli/v3"
)

func NewChatCommand() *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "Send one message to a relay and print the streamed reply",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Value:   "http://localhost:3001",
				Usage:   "Base URL of the relay server",
				Sources: cli.EnvVars("CHATRELAY_RELAY_URL"),
			},
			&cli.BoolFlag{Name: "show-blocks", Usage: "Print completed content blocks such as tool use requests"},
		},
		Action: handleChatCommand,
	}
}

func handleChatCommand(ctx context.Context, cmd *cli.Command) error {
	message := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if message == "" {
		_ = cli.ShowSubcommandHelp(cmd)
		return cli.Exit("A message is required.", 1)
	}

	out := cmd.Root().Writer
	showBlocks := cmd.Bool("show-blocks")
	handlers := client.StreamHandlers{
		OnText: func(delta, snapshot string) {
			fmt.Fprint(out, delta)
		},
		OnContentBlock: func(block llm.ContentBlock) {
			if showBlocks && block.ToolUse != nil {
				fmt.Fprintf(out, "\n[tool_use %s %s]\n", block.ToolUse.Name, string(block.ToolUse.Input))
			}
		},
	}

	stream, err := client.NewClient(cmd.String("url")).StreamChat(ctx, message, handlers)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	_, err = stream.Wait()
	fmt.Fprintln(out)

	var streamErr *client.StreamError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &streamErr):
		return cli.Exit("Error: "+streamErr.Message, 1)
	case errors.Is(err, context.Canceled):
		return nil
	default:
		return cli.Exit(err.Error(), 1)
	}
}
