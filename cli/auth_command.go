package main

import (
	"context"
	"errors"
	"fmt"

	"chatrelay/llm"
	"chatrelay/secret_manager"

	"github.com/erikgeiser/promptkit/selection"
	"github.com/erikgeiser/promptkit/textinput"
	"github.com/urfave/cli/v3"
)

// keyStore is the subset of the keyring secret manager the auth command needs.
type keyStore interface {
	GetSecret(secretName string) (string, error)
	SetSecret(secretName string, secret string) error
}

var authProviders = map[string]string{
	"Anthropic":         llm.AnthropicApiKeySecretName,
	"OpenAI":            llm.OpenaiApiKeySecretName,
	"OpenAI-compatible": llm.OpenaiCompatibleApiKeySecretName,
	"Google":            llm.GoogleApiKeySecretName,
}

var authProviderOrder = []string{"Anthropic", "OpenAI", "OpenAI-compatible", "Google"}

func NewAuthCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Store an LLM provider API key in the OS keyring",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return handleAuthCommand(&secret_manager.KeyringSecretManager{})
		},
	}
}

func handleAuthCommand(store keyStore) error {
	providerSelection := selection.New("Select your LLM API provider", authProviderOrder)
	provider, err := providerSelection.RunPrompt()
	if err != nil {
		return fmt.Errorf("provider selection failed: %w", err)
	}
	secretName := authProviders[provider]

	existingKey, err := store.GetSecret(secretName)
	if err != nil && !errors.Is(err, secret_manager.ErrSecretNotFound) {
		return fmt.Errorf("error checking existing API key: %w", err)
	}
	if existingKey != "" {
		overwriteSelection := selection.New(
			fmt.Sprintf("An existing %s API key was found. What would you like to do?", provider),
			[]string{"Keep existing key", "Overwrite with new key"},
		)
		choice, err := overwriteSelection.RunPrompt()
		if err != nil {
			return fmt.Errorf("selection failed: %w", err)
		}
		if choice == "Keep existing key" {
			fmt.Printf("✔ Keeping existing %s API key.\n", provider)
			return nil
		}
	}

	apiKeyInput := textinput.New(fmt.Sprintf("Enter your %s API Key: ", provider))
	apiKeyInput.Hidden = true
	apiKey, err := apiKeyInput.RunPrompt()
	if err != nil {
		return fmt.Errorf("failed to get %s API Key: %w", provider, err)
	}

	if err := storeAPIKey(store, provider, apiKey); err != nil {
		return err
	}
	fmt.Printf("✔ %s API Key saved.\n", provider)
	return nil
}

func storeAPIKey(store keyStore, provider, apiKey string) error {
	secretName, ok := authProviders[provider]
	if !ok {
		return fmt.Errorf("unknown provider: %s", provider)
	}
	if apiKey == "" {
		return fmt.Errorf("%s API Key not provided", provider)
	}
	if err := store.SetSecret(secretName, apiKey); err != nil {
		return fmt.Errorf("error storing API key in keyring: %w", err)
	}
	return nil
}
