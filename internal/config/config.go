package config

import (
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type Config struct {
	ServerAddr     string
	DatabaseDriver string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	TokenTTL       time.Duration
	LogLevel       logrus.Level
}

// Options holds the raw, unvalidated settings. Environment variables provide
// the defaults and command line flags override them.
type Options struct {
	Addr           string        `env:"CHAT_ADDR"            envDefault:"localhost:8000"`
	DBDriver       string        `env:"CHAT_DB_DRIVER"       envDefault:"postgres"`
	DSN            string        `env:"CHAT_DSN"             envDefault:"host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"`
	SigningKey     string        `env:"CHAT_SIGNING_KEY"     envDefault:"wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="`
	AllowedOrigins []string      `env:"CHAT_ALLOWED_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`
	TokenTTL       time.Duration `env:"CHAT_TOKEN_TTL"       envDefault:"30m"`
	LogLevel       string        `env:"CHAT_LOG_LEVEL"       envDefault:"info"`
}

type stringSliceFlag struct {
	values *[]string
	set    bool
}

func (s *stringSliceFlag) String() string {
	if s.values == nil {
		return ""
	}
	return strings.Join(*s.values, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	// the first explicit flag replaces the environment default
	if !s.set {
		*s.values = nil
		s.set = true
	}
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*s.values = append(*s.values, v)
		}
	}
	return nil
}

// Load reads an optional .env file, the process environment and then args.
func Load(fs *flag.FlagSet, args []string, dotenvFiles ...string) (*Config, error) {
	if err := loadDotenv(dotenvFiles...); err != nil {
		return nil, err
	}

	var opts Options
	if err := env.Parse(&opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&opts.Addr, "addr", opts.Addr, "server address")
	fs.StringVar(&opts.DBDriver, "db-driver", opts.DBDriver, "database driver (postgres or sqlite)")
	fs.StringVar(&opts.DSN, "dsn", opts.DSN, "database connection string")
	fs.StringVar(&opts.SigningKey, "signing-key", opts.SigningKey, "base64 encoded signing key")
	fs.Var(&stringSliceFlag{values: &opts.AllowedOrigins}, "allowed-origins", "comma-separated list of allowed origins for CORS")
	fs.DurationVar(&opts.TokenTTL, "token-ttl", opts.TokenTTL, "lifetime of issued access tokens")
	fs.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return NewConfig(opts)
}

func loadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing secret decodes to zero bytes")
	}
	return key, nil
}

func NewConfig(opts Options) (*Config, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if opts.DSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if opts.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if opts.DBDriver != DriverPostgres && opts.DBDriver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", opts.DBDriver)
	}
	if opts.TokenTTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}

	signingKey, err := decodeSigningSecret(opts.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	return &Config{
		ServerAddr:     opts.Addr,
		DatabaseDriver: opts.DBDriver,
		DatabaseDSN:    opts.DSN,
		SigningKey:     signingKey,
		AllowedOrigins: opts.AllowedOrigins,
		TokenTTL:       opts.TokenTTL,
		LogLevel:       level,
	}, nil
}

// UsingDefaultSigningKey reports whether the built-in development key is in use.
func (c *Config) UsingDefaultSigningKey() bool {
	return base64.StdEncoding.EncodeToString(c.SigningKey) == defaultSigningKey
}
