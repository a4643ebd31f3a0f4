package common

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

const envPrefix = "CHATRELAY_"

// Config is the full configuration for both chatrelay servers. Each process
// only reads the section it serves.
type Config struct {
	Relay     RelayConfig     `koanf:"relay"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type RelayConfig struct {
	Host        string `koanf:"host"`
	Port        int    `koanf:"port"`
	ServiceName string `koanf:"service_name"`

	Provider        string `koanf:"provider"`
	Model           string `koanf:"model"`
	MaxTokens       int    `koanf:"max_tokens"`
	ProviderBaseURL string `koanf:"provider_base_url"`

	// ToolServerURL is the MCP endpoint of the tool gateway. Empty disables
	// tool advertisement entirely.
	ToolServerURL    string        `koanf:"tool_server_url"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`

	EmitMessageEvents bool     `koanf:"emit_message_events"`
	AllowedOrigins    []string `koanf:"allowed_origins"`
}

type GatewayConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port"`
	ServerLabel       string        `koanf:"server_label"`
	WeatherAPIBaseURL string        `koanf:"weather_api_base_url"`
	UserAgent         string        `koanf:"user_agent"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	JSONResponse      bool          `koanf:"json_response"`
}

type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
}

// DefaultConfig returns the configuration used when no file or environment
// override is present.
func DefaultConfig() Config {
	return Config{
		Relay: RelayConfig{
			Host:              GetServerHost(defaultBindHost),
			Port:              GetServerPort(defaultRelayPort),
			ServiceName:       "chatbot-backend",
			Provider:          "anthropic",
			MaxTokens:         1000,
			ToolServerURL:     os.Getenv("MCP_SERVER_URL"),
			HandshakeTimeout:  10 * time.Second,
			EmitMessageEvents: true,
		},
		Gateway: GatewayConfig{
			Host:              GetServerHost(defaultBindHost),
			Port:              GetServerPort(defaultGatewayPort),
			ServerLabel:       "weatherMcp",
			WeatherAPIBaseURL: "https://api.weather.gov",
			UserAgent:         "weather-app/1.0",
			RequestTimeout:    15 * time.Second,
		},
	}
}

// LoadConfig layers defaults, an optional config file and CHATRELAY_*
// environment variables. An empty configPath triggers discovery; an explicit
// path that does not exist is an error.
func LoadConfig(configPath string) (Config, error) {
	cfg := DefaultConfig()
	k := koanf.New(".")

	if configPath == "" {
		configPath = discoverDefaultConfigPath()
	} else if _, err := os.Stat(configPath); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", configPath, err)
	}

	if configPath != "" {
		parser := parserFor(configPath)
		if parser == nil {
			return Config{}, fmt.Errorf("unsupported config file extension: %s", configPath)
		}
		if err := k.Load(file.Provider(configPath), parser); err != nil {
			return Config{}, fmt.Errorf("error loading config: %w", err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", envKeyValue), nil); err != nil {
		return Config{}, fmt.Errorf("error loading environment: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKeyValue maps CHATRELAY_RELAY_TOOL_SERVER_URL to relay.tool_server_url.
// Only the first underscore separates the section from the key.
func envKeyValue(key, value string) (string, interface{}) {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	key = strings.Replace(key, "_", ".", 1)
	if strings.HasSuffix(key, ".allowed_origins") {
		var origins []string
		for _, origin := range strings.Split(value, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		return key, origins
	}
	return key, value
}

func (c Config) Validate() error {
	if err := validatePort(c.Relay.Port); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	if err := validatePort(c.Gateway.Port); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if c.Relay.Provider == "" {
		return fmt.Errorf("relay: provider is required")
	}
	if c.Relay.MaxTokens <= 0 {
		return fmt.Errorf("relay: max_tokens must be positive, got %d", c.Relay.MaxTokens)
	}
	if c.Relay.ToolServerURL != "" {
		if err := validateHTTPURL(c.Relay.ToolServerURL); err != nil {
			return fmt.Errorf("relay: tool_server_url: %w", err)
		}
	}
	if err := validateHTTPURL(c.Gateway.WeatherAPIBaseURL); err != nil {
		return fmt.Errorf("gateway: weather_api_base_url: %w", err)
	}
	return nil
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port out of range: %d", port)
	}
	return nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https: %q", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host: %q", raw)
	}
	return nil
}

var configFileCandidates = []string{"chatrelay.yml", "chatrelay.yaml", "chatrelay.toml", "chatrelay.json"}

var configParsers = map[string]func() koanf.Parser{
	".yml":  func() koanf.Parser { return yaml.Parser() },
	".yaml": func() koanf.Parser { return yaml.Parser() },
	".toml": func() koanf.Parser { return toml.Parser() },
	".json": func() koanf.Parser { return json.Parser() },
}

// parserFor picks the koanf parser from the file extension. Nil means the
// extension is unsupported.
func parserFor(path string) koanf.Parser {
	newParser, ok := configParsers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil
	}
	return newParser()
}

// findConfigFiles returns the candidates present in dir, highest precedence
// first.
func findConfigFiles(dir string) []string {
	var found []string
	for _, candidate := range configFileCandidates {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			found = append(found, path)
		}
	}
	return found
}

func discoverDefaultConfigPath() string {
	if cwd, err := os.Getwd(); err == nil {
		if found := findConfigFiles(cwd); len(found) > 0 {
			if len(found) > 1 {
				log.Warn().Strs("ignored", found[1:]).Str("using", found[0]).Msg("Multiple chatrelay config files found")
			}
			return found[0]
		}
	}
	defaultPath := GetDefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}
	return ""
}

// GetDefaultConfigPath returns the default path for the chatrelay config file
func GetDefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "chatrelay", "config.yaml")
}
