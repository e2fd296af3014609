package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                 = "QUILL"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabaseDriver     = DriverSQLite
	defaultDatabasePath       = "quill.db"
	defaultAuthDatabasePath   = "quill-auth.db"
	defaultMongoDatabase      = "quill"
	defaultMongoTimeoutSecond = 10
	defaultRealtimeBackend    = RealtimeMemory
	defaultTokenTTLMinutes    = 60
	defaultLoginRPS           = 1.0
	defaultLoginBurst         = 5
	defaultLogLevel           = "info"
)

// Supported database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverMongo  = "mongo"
)

// Supported realtime backends.
const (
	RealtimeMemory = "memory"
	RealtimeRedis  = "redis"
)

// AppConfig captures runtime configuration for the API server and console.
type AppConfig struct {
	HTTPAddress      string
	DatabaseDriver   string
	DatabasePath     string
	DatabaseDSN      string
	AuthDatabasePath string
	MongoURI         string
	MongoDatabase    string
	MongoTimeout     time.Duration
	RedisAddress     string
	RedisPassword    string
	RedisDB          int
	RealtimeBackend  string
	SigningSecret    string
	TokenTTL         time.Duration
	LoginRPS         float64
	LoginBurst       int
	LogLevel         string
}

// LoadEnvFiles loads dotenv files into the process environment. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("auth.database_path", defaultAuthDatabasePath)
	configViper.SetDefault("mongo.uri", "")
	configViper.SetDefault("mongo.database", defaultMongoDatabase)
	configViper.SetDefault("mongo.timeout_seconds", defaultMongoTimeoutSecond)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("realtime.backend", defaultRealtimeBackend)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.login_rps", defaultLoginRPS)
	configViper.SetDefault("auth.login_burst", defaultLoginBurst)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      strings.TrimSpace(configViper.GetString("http.address")),
		DatabaseDriver:   strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:     strings.TrimSpace(configViper.GetString("database.path")),
		DatabaseDSN:      strings.TrimSpace(configViper.GetString("database.dsn")),
		AuthDatabasePath: strings.TrimSpace(configViper.GetString("auth.database_path")),
		MongoURI:         strings.TrimSpace(configViper.GetString("mongo.uri")),
		MongoDatabase:    strings.TrimSpace(configViper.GetString("mongo.database")),
		MongoTimeout:     time.Duration(configViper.GetInt("mongo.timeout_seconds")) * time.Second,
		RedisAddress:     strings.TrimSpace(configViper.GetString("redis.address")),
		RedisPassword:    configViper.GetString("redis.password"),
		RedisDB:          configViper.GetInt("redis.db"),
		RealtimeBackend:  strings.ToLower(strings.TrimSpace(configViper.GetString("realtime.backend"))),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenTTL:         time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		LoginRPS:         configViper.GetFloat64("auth.login_rps"),
		LoginBurst:       configViper.GetInt("auth.login_burst"),
		LogLevel:         configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// ValidateServer checks the settings only the HTTP server needs.
func (c AppConfig) ValidateServer() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.HTTPAddress == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.LoginRPS <= 0 || c.LoginBurst <= 0 {
		return fmt.Errorf("auth.login_rps and auth.login_burst must be positive")
	}
	return nil
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverMySQL:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database.dsn is required for the mysql driver")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("mongo.uri is required for the mongo driver")
		}
		if c.MongoDatabase == "" {
			return fmt.Errorf("mongo.database is required")
		}
		if c.AuthDatabasePath == "" {
			return fmt.Errorf("auth.database_path is required for the mongo driver")
		}
		if c.MongoTimeout <= 0 {
			return fmt.Errorf("mongo.timeout_seconds must be positive")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.DatabaseDriver)
	}

	switch c.RealtimeBackend {
	case RealtimeMemory:
	case RealtimeRedis:
		if c.RedisAddress == "" {
			return fmt.Errorf("redis.address is required for the redis realtime backend")
		}
	default:
		return fmt.Errorf("unsupported realtime.backend %q", c.RealtimeBackend)
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	return nil
}
