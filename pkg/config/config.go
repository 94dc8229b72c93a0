package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/platformid/simple-auth/pkg/notification"
)

// Config is the full service configuration, loaded from environment
// variables
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Email    EmailConfig
	OTP      OTPConfig
}

// AppConfig holds HTTP server settings
type AppConfig struct {
	Host     string `env:"AUTH_HOST" env-default:"localhost"`
	Port     uint16 `env:"AUTH_PORT" env-default:"4000"`
	InMemory bool   `env:"AUTH_IN_MEMORY" env-default:"false"`
}

// Addr returns the host:port listen address
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	Host     string `env:"AUTH_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"AUTH_PG_PORT" env-default:"5432"`
	Database string `env:"AUTH_PG_DATABASE" env-default:"auth_db"`
	User     string `env:"AUTH_PG_USER" env-default:"auth"`
	Password string `env:"AUTH_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"AUTH_PG_SCHEMA" env-default:"public"`
}

// ToDatabaseURL converts the config to a PostgreSQL connection URL
func (d DatabaseConfig) ToDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

// JWTConfig holds token signing configuration. Access and refresh tokens use
// distinct secrets.
type JWTConfig struct {
	AccessSecret       string        `env:"JWT_ACCESS_SECRET" env-default:"very-secure-access-secret"`
	RefreshSecret      string        `env:"JWT_REFRESH_SECRET" env-default:"very-secure-refresh-secret"`
	AccessTokenExpiry  time.Duration `env:"ACCESS_TOKEN_EXPIRY" env-default:"15m"`
	RefreshTokenExpiry time.Duration `env:"REFRESH_TOKEN_EXPIRY" env-default:"168h"`
	Issuer             string        `env:"JWT_ISSUER" env-default:"simple-auth"`
	Audience           string        `env:"JWT_AUDIENCE" env-default:"simple-auth"`
	CookieHttpOnly     bool          `env:"COOKIE_HTTP_ONLY" env-default:"true"`
	CookieSecure       bool          `env:"COOKIE_SECURE" env-default:"true"`
}

// EmailConfig holds SMTP email configuration
type EmailConfig struct {
	Host     string `env:"EMAIL_HOST" env-default:""`
	Port     uint16 `env:"EMAIL_PORT" env-default:"1025"`
	Username string `env:"EMAIL_USERNAME" env-default:""`
	Password string `env:"EMAIL_PASSWORD" env-default:""`
	From     string `env:"EMAIL_FROM" env-default:"noreply@example.com"`
	TLS      bool   `env:"EMAIL_TLS" env-default:"false"`
}

// Configured reports whether an SMTP host has been set
func (e EmailConfig) Configured() bool {
	return e.Host != ""
}

// ToSMTPConfig converts the config to a notification.SMTPConfig
func (e EmailConfig) ToSMTPConfig() notification.SMTPConfig {
	return notification.SMTPConfig{
		Host:     e.Host,
		Port:     int(e.Port),
		Username: e.Username,
		Password: e.Password,
		From:     e.From,
		TLS:      e.TLS,
	}
}

// OTPConfig holds passcode lifetimes
type OTPConfig struct {
	TTL           time.Duration `env:"OTP_TTL" env-default:"5m"`
	SweepInterval time.Duration `env:"OTP_SWEEP_INTERVAL" env-default:"10m"`
}

// Load reads the configuration from environment variables
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read config from env: %w", err)
	}
	return cfg, nil
}
