// Package config manages application configuration from config.yaml,
// CONVOQ_-prefixed environment variables, and default values.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration parameters for all
// components: logging, the shared log database, the generation backends,
// the external agent, maintenance scheduling, and the built-in bot list.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Text      TextConfig      `mapstructure:"text_backend"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Bots      []BotConfig     `mapstructure:"bots" validate:"required,min=1,dive"`
}

// LoggerConfig controls log level and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig locates the sqlite shared log.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// TextConfig configures the plain-text streaming backend.
type TextConfig struct {
	Endpoint string        `mapstructure:"endpoint" validate:"required,url"`
	Timeout  time.Duration `mapstructure:"timeout"  validate:"min=1s,max=10m"`
}

// GeminiConfig configures the structured-generation backend.
type GeminiConfig struct {
	APIKey      string  `mapstructure:"api_key" validate:"required"`
	ModelName   string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature" validate:"min=0,max=2"`
}

// AgentConfig configures the external coding agent channel.
type AgentConfig struct {
	Endpoint string        `mapstructure:"endpoint" validate:"required,url"`
	Timeout  time.Duration `mapstructure:"timeout"  validate:"min=0,max=1h"`
}

// SchedulerConfig holds cron expressions for the maintenance jobs.
type SchedulerConfig struct {
	QueueCleanupSchedule  string `mapstructure:"queue_cleanup_schedule"`
	DBMaintenanceSchedule string `mapstructure:"db_maintenance_schedule"`
}

// BotConfig declares one built-in bot.
type BotConfig struct {
	ID                 string `mapstructure:"id"            validate:"required"`
	Mention            string `mapstructure:"mention"       validate:"required"`
	DisplayName        string `mapstructure:"display_name"  validate:"required"`
	ResponseType       string `mapstructure:"response_type" validate:"oneof=text structured external-agent"`
	ContextMode        string `mapstructure:"context_mode"  validate:"oneof=none thread full"`
	MaxContextMessages int    `mapstructure:"max_context_messages" validate:"min=0"`
	SchemaID           string `mapstructure:"schema_id"`
}

// LoadConfig reads, unmarshals, and validates configuration from the given
// path, with defaults filled in and CONVOQ_* environment overrides applied.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("CONVOQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	for _, bot := range cfg.Bots {
		if bot.ResponseType == "structured" && bot.SchemaID == "" {
			return nil, fmt.Errorf("structured bot %q requires schema_id", bot.ID)
		}
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", true)

	v.SetDefault("database.path", "convoq.db")

	v.SetDefault("text_backend.timeout", 2*time.Minute)

	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.temperature", 1.0)

	v.SetDefault("agent.timeout", 15*time.Minute)

	v.SetDefault("scheduler.queue_cleanup_schedule", "*/1 * * * *")
	v.SetDefault("scheduler.db_maintenance_schedule", "0 4 * * *")
}
