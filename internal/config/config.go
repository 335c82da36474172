package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/freewebtopdf/upnet/internal/source"
)

// Config holds all configuration for the updater and the release server
type Config struct {
	Apply struct {
		TargetDir    string        `env:"UPNET_TARGET_DIR" envDefault:"."`
		Manifest     string        `env:"UPNET_MANIFEST" envDefault:"update.json" validate:"required,location"`
		InitialDelay time.Duration `env:"UPNET_INITIAL_DELAY" envDefault:"0s"`
		PostCommand  string        `env:"UPNET_POST_COMMAND"`
		Timeout      time.Duration `env:"UPNET_APPLY_TIMEOUT" envDefault:"0s"` // 0 disables the deadline
	}

	Source struct {
		HTTPTimeout     time.Duration `env:"UPNET_HTTP_TIMEOUT" envDefault:"30s"`
		UserAgent       string        `env:"UPNET_USER_AGENT" envDefault:"upnet"`
		MaxManifestSize int64         `env:"UPNET_MAX_MANIFEST_SIZE" envDefault:"10485760" validate:"min=1024"` // 10MB
		CacheDir        string        `env:"UPNET_CACHE_DIR"`
		CacheTTL        time.Duration `env:"UPNET_CACHE_TTL" envDefault:"1h"`
	}

	Watch struct {
		Interval time.Duration `env:"UPNET_WATCH_INTERVAL" envDefault:"15m"`
	}

	Server struct {
		Port            int           `env:"PORT" envDefault:"8080" validate:"min=1,max=65535"`
		Root            string        `env:"UPNET_SERVE_ROOT" envDefault:"./releases"`
		ManifestName    string        `env:"UPNET_SERVE_MANIFEST" envDefault:"update.json" validate:"required"`
		ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
		WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"5m"` // large objects stream slowly
		RateLimitRPS    int           `env:"RATE_LIMIT_RPS" envDefault:"50" validate:"min=0"`
		RateLimitBurst  int           `env:"RATE_LIMIT_BURST" envDefault:"100" validate:"min=0"`
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
		CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," validate:"cors_origins"`
	}

	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
		Format string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json text"`
	}

	Metrics struct {
		Textfile string `env:"UPNET_METRICS_TEXTFILE"`
	}
}

// Load loads configuration from environment variables and .env files
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration using struct tags
func Validate(cfg *Config) error {
	validator := validator.New()

	if err := validator.RegisterValidation("location", validateLocation); err != nil {
		return fmt.Errorf("failed to register location validation: %w", err)
	}

	if err := validator.RegisterValidation("cors_origins", validateCORSOrigins); err != nil {
		return fmt.Errorf("failed to register CORS validation: %w", err)
	}

	if err := validator.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateLocation accepts a file path or an absolute http(s) URL
func validateLocation(fl validator.FieldLevel) bool {
	location := strings.TrimSpace(fl.Field().String())
	if location == "" {
		return true
	}
	if !source.IsRemote(location) {
		return true
	}
	u, err := url.Parse(location)
	return err == nil && u.Host != ""
}

// validateCORSOrigins validates CORS origins format
func validateCORSOrigins(fl validator.FieldLevel) bool {
	origins, ok := fl.Field().Interface().([]string)
	if !ok {
		return false
	}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin != "*" && !source.IsRemote(origin) {
			return false
		}
	}
	return true
}

// validateCustomRules performs additional validation beyond struct tags
func validateCustomRules(cfg *Config) error {
	if cfg.Apply.TargetDir == "" {
		return fmt.Errorf("target directory cannot be empty")
	}
	if cfg.Apply.InitialDelay < 0 {
		return fmt.Errorf("initial delay cannot be negative")
	}
	if cfg.Apply.Timeout < 0 {
		return fmt.Errorf("apply timeout cannot be negative")
	}

	if cfg.Source.HTTPTimeout < time.Second {
		return fmt.Errorf("HTTP timeout must be at least 1 second")
	}
	if cfg.Source.CacheDir != "" && cfg.Source.CacheTTL < time.Second {
		return fmt.Errorf("cache TTL must be at least 1 second")
	}

	if cfg.Watch.Interval <= 0 {
		return fmt.Errorf("watch interval must be positive")
	}

	if cfg.Server.Root == "" {
		return fmt.Errorf("server root cannot be empty")
	}
	if cfg.Server.ReadTimeout < time.Millisecond {
		return fmt.Errorf("read timeout must be at least 1ms")
	}
	if cfg.Server.WriteTimeout < time.Millisecond {
		return fmt.Errorf("write timeout must be at least 1ms")
	}
	if cfg.Server.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second")
	}

	return nil
}

// EnsureDirectories creates all required directories
func (cfg *Config) EnsureDirectories() error {
	dirs := []string{
		cfg.Apply.TargetDir,
		cfg.Source.CacheDir,
	}

	for _, dir := range dirs {
		if dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("cannot create directory %s: %w", dir, err)
			}
		}
	}
	return nil
}

// SourceOptions returns the transport options derived from the Source section
func (cfg *Config) SourceOptions() source.Options {
	return source.Options{
		HTTP: source.HTTPConfig{
			Timeout:         cfg.Source.HTTPTimeout,
			MaxManifestSize: cfg.Source.MaxManifestSize,
			UserAgent:       cfg.Source.UserAgent,
		},
		CacheDir: cfg.Source.CacheDir,
		CacheTTL: cfg.Source.CacheTTL,
	}
}

// formatValidationError formats validation errors into readable messages
func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var messages []string
		for _, e := range validationErrors {
			switch e.Tag() {
			case "required":
				messages = append(messages, fmt.Sprintf("%s is required", e.Field()))
			case "min":
				messages = append(messages, fmt.Sprintf("%s must be at least %s", e.Field(), e.Param()))
			case "max":
				messages = append(messages, fmt.Sprintf("%s must be at most %s", e.Field(), e.Param()))
			case "oneof":
				messages = append(messages, fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param()))
			case "cors_origins":
				messages = append(messages, fmt.Sprintf("%s must contain http(s) origins or *", e.Field()))
			case "location":
				messages = append(messages, fmt.Sprintf("%s must be a file path or an http(s) URL", e.Field()))
			default:
				messages = append(messages, fmt.Sprintf("%s failed validation: %s", e.Field(), e.Tag()))
			}
		}
		return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
	}
	return err
}
