package server

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// ServerConfig is the complete server configuration: an optional HCL file
// with env-var overrides (DATABASE_URL, PORT) on top.
type ServerConfig struct {
	Server  ServerSettings  `hcl:"server,block"`
	Cleanup CleanupSettings `hcl:"cleanup,block"`
}

type ServerSettings struct {
	Address     string `hcl:"address,optional"`
	Port        int    `hcl:"port,optional"`
	LogLevel    string `hcl:"log_level,optional"`
	DatabaseURL string `hcl:"database_url,optional"`

	// Max client messages per connection per second.
	MessageRate int `hcl:"message_rate,optional"`
}

// CleanupSettings tunes the staleness sweep and the backstop save task.
type CleanupSettings struct {
	SweepIntervalSeconds  int `hcl:"sweep_interval_seconds,optional"`
	SaveIntervalSeconds   int `hcl:"save_interval_seconds,optional"`
	WaitingIdleMinutes    int `hcl:"waiting_idle_minutes,optional"`
	InProgressIdleMinutes int `hcl:"in_progress_idle_minutes,optional"`
	AbandonedHours        int `hcl:"abandoned_hours,optional"`
}

func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Server: ServerSettings{
			Address:     "",
			Port:        8080,
			LogLevel:    "info",
			MessageRate: 20,
		},
		Cleanup: CleanupSettings{
			SweepIntervalSeconds:  60,
			SaveIntervalSeconds:   30,
			WaitingIdleMinutes:    10,
			InProgressIdleMinutes: 20,
			AbandonedHours:        4,
		},
	}
}

// LoadServerConfig loads configuration from an HCL file, falling back to
// defaults if the file does not exist, then applies env overrides.
func LoadServerConfig(filename string) (*ServerConfig, error) {
	config := DefaultServerConfig()

	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			parser := hclparse.NewParser()
			file, diags := parser.ParseHCLFile(filename)
			if diags.HasErrors() {
				return nil, fmt.Errorf("failed to parse config file: %s", diags.Error())
			}

			var fromFile ServerConfig
			diags = gohcl.DecodeBody(file.Body, nil, &fromFile)
			if diags.HasErrors() {
				return nil, fmt.Errorf("failed to decode config file: %s", diags.Error())
			}
			applyFileConfig(config, &fromFile)
		}
	}

	// Env overrides, loaded from .env by godotenv/autoload in main.
	if url := os.Getenv("DATABASE_URL"); url != "" {
		config.Server.DatabaseURL = url
	}
	if portStr := os.Getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT value %q: %w", portStr, err)
		}
		config.Server.Port = port
	}

	return config, nil
}

func applyFileConfig(dst, src *ServerConfig) {
	if src.Server.Address != "" {
		dst.Server.Address = src.Server.Address
	}
	if src.Server.Port != 0 {
		dst.Server.Port = src.Server.Port
	}
	if src.Server.LogLevel != "" {
		dst.Server.LogLevel = src.Server.LogLevel
	}
	if src.Server.DatabaseURL != "" {
		dst.Server.DatabaseURL = src.Server.DatabaseURL
	}
	if src.Server.MessageRate != 0 {
		dst.Server.MessageRate = src.Server.MessageRate
	}
	if src.Cleanup.SweepIntervalSeconds != 0 {
		dst.Cleanup.SweepIntervalSeconds = src.Cleanup.SweepIntervalSeconds
	}
	if src.Cleanup.SaveIntervalSeconds != 0 {
		dst.Cleanup.SaveIntervalSeconds = src.Cleanup.SaveIntervalSeconds
	}
	if src.Cleanup.WaitingIdleMinutes != 0 {
		dst.Cleanup.WaitingIdleMinutes = src.Cleanup.WaitingIdleMinutes
	}
	if src.Cleanup.InProgressIdleMinutes != 0 {
		dst.Cleanup.InProgressIdleMinutes = src.Cleanup.InProgressIdleMinutes
	}
	if src.Cleanup.AbandonedHours != 0 {
		dst.Cleanup.AbandonedHours = src.Cleanup.AbandonedHours
	}
}

func (c *ServerConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.DatabaseURL == "" {
		return fmt.Errorf("database URL is required (set DATABASE_URL or database_url)")
	}
	if c.Server.MessageRate < 1 {
		return fmt.Errorf("message_rate must be positive")
	}
	if c.Cleanup.SweepIntervalSeconds < 1 || c.Cleanup.SaveIntervalSeconds < 1 {
		return fmt.Errorf("cleanup intervals must be positive")
	}
	return nil
}

func (c *ServerConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
