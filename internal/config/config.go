package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port      string `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console" validate:"oneof=console json"`

	DefaultProvider string        `envconfig:"DEFAULT_PROVIDER" default:"openai" validate:"oneof=openai ollama"`
	DefaultModel    string        `envconfig:"DEFAULT_MODEL" default:"gpt-4o-mini" validate:"required"`
	SystemPrompt    string        `envconfig:"SYSTEM_PROMPT"`
	OpenAIKey       string        `envconfig:"OPENAI_API_KEY" validate:"required_if=DefaultProvider openai"`
	OpenAIBaseURL   string        `envconfig:"OPENAI_BASE_URL" validate:"omitempty,url"`
	OllamaHost      string        `envconfig:"OLLAMA_HOST" default:"http://localhost:11434" validate:"omitempty,url"`
	AITimeout       time.Duration `envconfig:"AI_TIMEOUT" default:"60s"`

	OracleMaxAttempts int           `envconfig:"ORACLE_MAX_ATTEMPTS" default:"3" validate:"min=1,max=10"`
	OracleBaseDelay   time.Duration `envconfig:"ORACLE_BASE_DELAY" default:"500ms"`

	RedisURL       string `envconfig:"REDIS_URL" validate:"omitempty,url"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	RabbitMQURL    string `envconfig:"RABBITMQ_URL" validate:"omitempty,url"`
	EventsExchange string `envconfig:"EVENTS_EXCHANGE" default:"doublecross.events" validate:"required"`

	GMUser string `envconfig:"GM_USER"`
	GMPass string `envconfig:"GM_PASS" validate:"required_with=GMUser"`

	ExportEnabled bool   `envconfig:"EXPORT_ENABLED" default:"true"`
	ExportFile    string `envconfig:"EXPORT_FILE" default:"./doublecross-results.txt"`

	RandomSeed               int64         `envconfig:"RANDOM_SEED"`
	TimerPollInterval        time.Duration `envconfig:"TIMER_POLL_INTERVAL" default:"1s"`
	GuessConfidenceThreshold int           `envconfig:"GUESS_CONFIDENCE_THRESHOLD" default:"70" validate:"min=0,max=100"`
	AutoPlay                 bool          `envconfig:"AUTO_PLAY" default:"true"`

	DefaultMaxTurns      int    `envconfig:"DEFAULT_MAX_TURNS" default:"10" validate:"min=5,max=20"`
	DefaultTurnTimeLimit int    `envconfig:"DEFAULT_TURN_TIME_LIMIT" default:"90" validate:"min=30,max=180"`
	DefaultDifficulty    string `envconfig:"DEFAULT_DIFFICULTY" default:"NORMAL" validate:"oneof=EASY NORMAL HARD"`
}

// FromEnv loads an optional .env file, then reads and validates the
// environment.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Load()
}

// Load reads and validates the environment without touching .env files.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := validator.New().Struct(c); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func (c Config) GMEnabled() bool { return c.GMUser != "" && c.GMPass != "" }
