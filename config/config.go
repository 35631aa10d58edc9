// Package config loads service configuration from a YAML file and the
// environment, with env vars overlaying file values.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config sources, in order of priority:
//  1. explicit path passed to Load;
//  2. CONFIG_PATH env var;
//  3. ./local.yaml;
//  4. env vars only.
type Config struct {
	Env   string      `yaml:"env" env:"ENV" env-default:"local"`
	HTTP  HTTPConfig  `yaml:"http"`
	Auth  AuthConfig  `yaml:"auth"`
	AWS   AWSConfig   `yaml:"aws"`
	Redis RedisConfig `yaml:"redis"`
	OAuth OAuthConfig `yaml:"oauth"`
}

type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

// Addr returns host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

type AuthConfig struct {
	// Base64-encoded HMAC secret for access token signing.
	JWTSecret       string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"30m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
}

type AWSConfig struct {
	DevMode          bool   `yaml:"dev_mode" env:"DEV_MODE" env-default:"false"`
	DynamoDBEndpoint string `yaml:"dynamodb_endpoint" env:"DYNAMODB_ENDPOINT"`
	SQSEndpoint      string `yaml:"sqs_endpoint" env:"SQS_ENDPOINT"`
	Table            string `yaml:"table" env:"DYNAMODB_TABLE" env-default:"Codeverse"`
	AccountQueue     string `yaml:"account_queue" env:"ACCOUNT_EVENTS_QUEUE" env-default:"AccountEventsQueue"`
}

type RedisConfig struct {
	Endpoint string `yaml:"endpoint" env:"REDIS_ENDPOINT" env-required:"true"`
}

type OAuthConfig struct {
	GithubClientID     string `yaml:"github_client_id" env:"GITHUB_CLIENT_ID"`
	GithubClientSecret string `yaml:"github_client_secret" env:"GITHUB_CLIENT_SECRET"`
	GoogleClientID     string `yaml:"google_client_id" env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `yaml:"google_client_secret" env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL        string `yaml:"redirect_url" env:"OAUTH_REDIRECT_URL"`
}

// MustLoad wraps Load and panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		// env vars win over file values
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	if path != "" {
		return tryRead(path)
	}

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	if _, err := os.Stat("local.yaml"); err == nil {
		return tryRead("local.yaml")
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide a path, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return &cfg, nil
}
