package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ConfigSource defines an interface for loading configuration from various sources.
type ConfigSource interface {
	Get(key string) (string, bool)
	GetWithDefault(key, defaultValue string) string
}

// EnvConfigSource loads configuration from environment variables.
type EnvConfigSource struct{}

// Get retrieves an environment variable.
func (e *EnvConfigSource) Get(key string) (string, bool) {
	val := os.Getenv(key)
	return val, val != ""
}

// GetWithDefault retrieves an environment variable or returns a default value.
func (e *EnvConfigSource) GetWithDefault(key, defaultValue string) string {
	if val, ok := e.Get(key); ok {
		return val
	}
	return defaultValue
}

// MapConfigSource serves values from an in-memory map.
type MapConfigSource map[string]string

// Get retrieves a value from the map.
func (m MapConfigSource) Get(key string) (string, bool) {
	val, ok := m[key]
	return val, ok && val != ""
}

// GetWithDefault retrieves a value from the map or returns a default.
func (m MapConfigSource) GetWithDefault(key, defaultValue string) string {
	if val, ok := m.Get(key); ok {
		return val
	}
	return defaultValue
}

// FileConfigSource loads configuration from a JSON or YAML file.
type FileConfigSource struct {
	data map[string]interface{}
}

// NewFileConfigSource creates a new file-based config source.
// Supports both JSON and YAML files based on file extension.
func NewFileConfigSource(filePath string) (*FileConfigSource, error) {
	fileData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch {
	case strings.HasSuffix(filePath, ".yaml"), strings.HasSuffix(filePath, ".yml"):
		return parseFileConfig(fileData, yaml.Unmarshal)
	case strings.HasSuffix(filePath, ".json"):
		return parseFileConfig(fileData, json.Unmarshal)
	default:
		return nil, fmt.Errorf("unsupported config file format, use .json, .yaml, or .yml")
	}
}

func parseFileConfig(raw []byte, unmarshal func([]byte, any) error) (*FileConfigSource, error) {
	data := make(map[string]interface{})
	if err := unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &FileConfigSource{data: data}, nil
}

// Get retrieves a value from the config file using dot notation (e.g., "checkpoint.container").
func (f *FileConfigSource) Get(key string) (string, bool) {
	keys := strings.Split(key, ".")
	var current interface{} = f.data

	for _, k := range keys {
		m, ok := current.(map[string]interface{})
		if !ok {
			return "", false
		}
		val, exists := m[k]
		if !exists {
			return "", false
		}
		current = val
	}

	if str, ok := current.(string); ok {
		return str, true
	}
	return fmt.Sprintf("%v", current), true
}

// GetWithDefault retrieves a value from the config file or returns a default.
func (f *FileConfigSource) GetWithDefault(key, defaultValue string) string {
	if val, ok := f.Get(key); ok {
		return val
	}
	return defaultValue
}

// Config holds client configuration.
type Config struct {
	// Service Bus / Event Hubs configuration
	ConnectionString string        `validate:"required"`
	Entity           string        `validate:"required"`
	ReceiveMode      string        `validate:"oneof=peeklock receiveanddelete"`
	OperationTimeout time.Duration `validate:"gte=0"`
	ReceiveTimeout   time.Duration `validate:"gte=0"`
	SendRate         float64       `validate:"gte=0"` // messages per second, 0 disables limiting
	SendBurst        int           `validate:"gte=0"`
	TokenTTL         time.Duration `validate:"gt=0"`

	// Checkpoint configuration
	CheckpointBackend     string `validate:"oneof=none memory blob postgres"`
	CheckpointAccountName string `validate:"required_if=CheckpointBackend blob"`
	CheckpointAccountKey  string
	CheckpointContainer   string `validate:"required_if=CheckpointBackend blob"`
	CheckpointDSN         string `validate:"required_if=CheckpointBackend postgres"`

	// Status server for long-running consumers; empty disables it
	StatusAddr string

	// Telemetry configuration
	NewRelicLicenseKey string
	NewRelicAppName    string

	// Logging configuration
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console"`
}

var validate = validator.New()

// Validate checks the configuration against its field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from the provided source.
func LoadConfig(source ConfigSource) (*Config, error) {
	cfg := &Config{}

	getDuration := func(key string, defaultValue time.Duration) time.Duration {
		str := source.GetWithDefault(key, defaultValue.String())
		val, err := time.ParseDuration(str)
		if err != nil {
			return defaultValue
		}
		return val
	}
	getInt := func(key string, defaultValue int) int {
		val, err := strconv.Atoi(source.GetWithDefault(key, strconv.Itoa(defaultValue)))
		if err != nil {
			return defaultValue
		}
		return val
	}
	getFloat := func(key string, defaultValue float64) float64 {
		val, err := strconv.ParseFloat(source.GetWithDefault(key, ""), 64)
		if err != nil {
			return defaultValue
		}
		return val
	}

	cfg.ConnectionString = source.GetWithDefault("SERVICE_BUS_CONNECTION_STRING", "")
	cfg.Entity = source.GetWithDefault("SERVICE_BUS_ENTITY", "")
	cfg.ReceiveMode = strings.ToLower(source.GetWithDefault("SERVICE_BUS_RECEIVE_MODE", "peeklock"))
	cfg.OperationTimeout = getDuration("SERVICE_BUS_OPERATION_TIMEOUT", time.Minute)
	cfg.ReceiveTimeout = getDuration("SERVICE_BUS_RECEIVE_TIMEOUT", time.Minute)
	cfg.SendRate = getFloat("SERVICE_BUS_SEND_RATE", 0)
	cfg.SendBurst = getInt("SERVICE_BUS_SEND_BURST", 1)
	cfg.TokenTTL = getDuration("SAS_TOKEN_TTL", 20*time.Minute)

	cfg.CheckpointBackend = strings.ToLower(source.GetWithDefault("CHECKPOINT_BACKEND", "none"))
	cfg.CheckpointAccountName = source.GetWithDefault("CHECKPOINT_ACCOUNT_NAME", "")
	cfg.CheckpointAccountKey = source.GetWithDefault("CHECKPOINT_ACCOUNT_KEY", "")
	cfg.CheckpointContainer = source.GetWithDefault("CHECKPOINT_CONTAINER", "checkpoints")
	cfg.CheckpointDSN = source.GetWithDefault("CHECKPOINT_DSN", "")

	cfg.StatusAddr = source.GetWithDefault("STATUS_ADDR", "")

	cfg.NewRelicLicenseKey = source.GetWithDefault("NEW_RELIC_LICENSE_KEY", "")
	cfg.NewRelicAppName = source.GetWithDefault("NEW_RELIC_APP_NAME", "go-sblite")

	cfg.LogLevel = source.GetWithDefault("LOG_LEVEL", "info")
	cfg.LogFormat = source.GetWithDefault("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables.
func LoadConfigFromEnv() (*Config, error) {
	return LoadConfig(&EnvConfigSource{})
}

// LoadConfigFromFile loads configuration from a JSON or YAML file.
// Environment variables will override file values if both are set.
func LoadConfigFromFile(filePath string) (*Config, error) {
	fileSource, err := NewFileConfigSource(filePath)
	if err != nil {
		return nil, err
	}

	composite := &CompositeConfigSource{
		sources: []ConfigSource{&EnvConfigSource{}, fileSource},
	}

	return LoadConfig(composite)
}

// NewCompositeConfigSource checks the given sources in order.
func NewCompositeConfigSource(sources ...ConfigSource) *CompositeConfigSource {
	return &CompositeConfigSource{sources: sources}
}

// CompositeConfigSource checks multiple config sources in order.
type CompositeConfigSource struct {
	sources []ConfigSource
}

// Get retrieves a value from the first source that has it.
func (c *CompositeConfigSource) Get(key string) (string, bool) {
	for _, source := range c.sources {
		if val, ok := source.Get(key); ok {
			return val, true
		}
	}
	return "", false
}

// GetWithDefault retrieves a value from sources or returns default.
func (c *CompositeConfigSource) GetWithDefault(key, defaultValue string) string {
	if val, ok := c.Get(key); ok {
		return val
	}
	return defaultValue
}
