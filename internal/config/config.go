package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/noah-isme/adeline-api/internal/placement"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName             string
	AppEnv              string
	AppPort             string
	DatabaseURL         string
	RedisURL            string
	NATSURL             string
	EventsChannel       string
	JWTSecret           string
	AIProvider          string
	AIModel             string
	AITimeout           time.Duration
	OpenAIAPIKey        string
	AnthropicAPIKey     string
	StorageTimeout      time.Duration
	ReportCacheTTL      time.Duration
	QuestionsPerSubject int
	WarmupTurns         int
	RetestAfter         time.Duration
	MaxCASRetries       int
	DefaultGrade        int
	AnswerRateLimit     int
	Curriculum          []placement.Subject
	Difficulty          placement.DifficultyConfig
	SeedEnabled         bool
	SeedToken           string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ADELINE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	defaults := placement.DefaultDifficultyConfig()

	v.SetDefault("app.name", "Dear Adeline API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.channel", "adeline")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.timeout", "20s")
	v.SetDefault("storage.timeout", "3s")
	v.SetDefault("report.cache_ttl", "10m")
	v.SetDefault("assessment.questions_per_subject", 3)
	v.SetDefault("assessment.warmup_turns", 1)
	v.SetDefault("assessment.retest_after", "720h")
	v.SetDefault("assessment.max_cas_retries", 5)
	v.SetDefault("assessment.default_grade", 5)
	v.SetDefault("assessment.subjects", "math,reading,science,hebrew")
	v.SetDefault("assessment.answer_rate_limit", 60)
	v.SetDefault("difficulty.min", defaults.Min)
	v.SetDefault("difficulty.max", defaults.Max)
	v.SetDefault("difficulty.step", defaults.Step)
	v.SetDefault("difficulty.probe_band", defaults.ProbeBand)
	v.SetDefault("seed.enabled", false)
}

func fromViper(v *viper.Viper) (Config, error) {
	aiTimeout, err := parseDuration(v, "ai.timeout")
	if err != nil {
		return Config{}, err
	}
	storageTimeout, err := parseDuration(v, "storage.timeout")
	if err != nil {
		return Config{}, err
	}
	reportTTL, err := parseDuration(v, "report.cache_ttl")
	if err != nil {
		return Config{}, err
	}
	retestAfter, err := parseDuration(v, "assessment.retest_after")
	if err != nil {
		return Config{}, err
	}

	curriculum, err := parseCurriculum(v.GetString("assessment.subjects"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:             v.GetString("app.name"),
		AppEnv:              v.GetString("app.env"),
		AppPort:             v.GetString("app.port"),
		DatabaseURL:         v.GetString("database.url"),
		RedisURL:            v.GetString("redis.url"),
		NATSURL:             v.GetString("nats.url"),
		EventsChannel:       v.GetString("events.channel"),
		JWTSecret:           v.GetString("jwt.secret"),
		AIProvider:          strings.ToLower(v.GetString("ai.provider")),
		AIModel:             v.GetString("ai.model"),
		AITimeout:           aiTimeout,
		OpenAIAPIKey:        v.GetString("openai_api_key"),
		AnthropicAPIKey:     v.GetString("anthropic_api_key"),
		StorageTimeout:      storageTimeout,
		ReportCacheTTL:      reportTTL,
		QuestionsPerSubject: v.GetInt("assessment.questions_per_subject"),
		WarmupTurns:         v.GetInt("assessment.warmup_turns"),
		RetestAfter:         retestAfter,
		MaxCASRetries:       v.GetInt("assessment.max_cas_retries"),
		DefaultGrade:        v.GetInt("assessment.default_grade"),
		AnswerRateLimit:     v.GetInt("assessment.answer_rate_limit"),
		Curriculum:          curriculum,
		Difficulty: placement.DifficultyConfig{
			Min:       v.GetInt("difficulty.min"),
			Max:       v.GetInt("difficulty.max"),
			Step:      v.GetInt("difficulty.step"),
			ProbeBand: v.GetInt("difficulty.probe_band"),
		}.Normalize(),
		SeedEnabled: v.GetBool("seed.enabled"),
		SeedToken:   v.GetString("seed.token"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.SeedEnabled && cfg.SeedToken == "" {
		return Config{}, fmt.Errorf("seed token must be provided when seeding is enabled")
	}

	if cfg.QuestionsPerSubject <= 0 {
		cfg.QuestionsPerSubject = 3
	}

	if cfg.WarmupTurns < 0 {
		cfg.WarmupTurns = 0
	}

	if cfg.MaxCASRetries <= 0 {
		cfg.MaxCASRetries = 5
	}

	if cfg.DefaultGrade <= 0 {
		cfg.DefaultGrade = 5
	}

	if cfg.AnswerRateLimit <= 0 {
		cfg.AnswerRateLimit = 60
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return value, nil
}

func parseCurriculum(raw string) ([]placement.Subject, error) {
	var subjects []placement.Subject
	seen := make(map[placement.Subject]struct{})
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		subject, err := placement.ParseSubject(part)
		if err != nil {
			return nil, fmt.Errorf("invalid assessment.subjects: %w", err)
		}
		if _, dup := seen[subject]; dup {
			continue
		}
		seen[subject] = struct{}{}
		subjects = append(subjects, subject)
	}
	if len(subjects) == 0 {
		return placement.DefaultCurriculum(), nil
	}
	return subjects, nil
}
