// Package config содержит логику чтения конфигурации сервиса лояльности.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса лояльности.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	AuthSecret  string `env:"AUTH_SECRET"`
	BaseURL     string `env:"BASE_URL"`

	// Курс начисления и реферальный бонус передаются в сервис при
	// конструировании и нигде не читаются из окружения повторно.
	PointsPerBlock int64 `env:"POINTS_PER_BLOCK" envDefault:"100"`
	BlockSize      int64 `env:"BLOCK_SIZE" envDefault:"10000"`
	ReferralBonus  int64 `env:"REFERRAL_BONUS" envDefault:"50"`

	// SignupEmailCheck: strict — отклонять одноразовые домены, off — не проверять.
	SignupEmailCheck string `env:"SIGNUP_EMAIL_CHECK" envDefault:"strict"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"465"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASS"`
	MailFrom     string `env:"MAIL_FROM" envDefault:"Smoke Eat Burger <no-reply@localhost>"`
	MailDryRun   bool   `env:"MAIL_DRY_RUN"`
	ResendAPIKey string `env:"RESEND_API_KEY"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envBaseURL := cfg.BaseURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for signing auth tokens")
	flag.StringVar(&cfg.BaseURL, "b", "http://localhost:8080", "public base URL used in email links")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envBaseURL != "" {
		cfg.BaseURL = envBaseURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.PointsPerBlock <= 0 || cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("points rate must be positive: %d per %d", cfg.PointsPerBlock, cfg.BlockSize)
	}
	if cfg.ReferralBonus < 0 {
		return nil, fmt.Errorf("referral bonus must not be negative: %d", cfg.ReferralBonus)
	}

	return cfg, nil
}
