// Package config loads service settings from the environment. A .env file in
// the working directory is read first; real environment variables win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server" validate:"required"`
	Store   StoreConfig   `mapstructure:"store" validate:"required"`
	Mongo   MongoConfig   `mapstructure:"mongo" validate:"required"`
	Log     LogConfig     `mapstructure:"log" validate:"required"`
	Breaker BreakerConfig `mapstructure:"breaker" validate:"required"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	CORSOrigin      string        `mapstructure:"cors_origin" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=mongo memory"`
}

type MongoConfig struct {
	URI             string        `mapstructure:"uri" validate:"required,startswith=mongodb"`
	DBName          string        `mapstructure:"db_name" validate:"required"`
	TasksCollection string        `mapstructure:"tasks_collection" validate:"required"`
	UsersCollection string        `mapstructure:"users_collection" validate:"required,nefield=TasksCollection"`
	Transactions    bool          `mapstructure:"transactions"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=trace debug info warn warning error fatal panic"`
	File  string `mapstructure:"file"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures" validate:"gt=0"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

var defaults = map[string]interface{}{
	"server.port":             8080,
	"server.cors_origin":      "*",
	"server.shutdown_timeout": 10 * time.Second,
	"store.driver":            "mongo",
	"mongo.uri":               "mongodb://localhost:27017",
	"mongo.db_name":           "llama_io",
	"mongo.tasks_collection":  "tasks",
	"mongo.users_collection":  "users",
	"mongo.transactions":      false,
	"mongo.timeout":           10 * time.Second,
	"log.level":               "info",
	"log.file":                "logs/api.log",
	"breaker.max_failures":    3,
	"breaker.timeout":         5 * time.Second,
}

// Load reads the optional env files (".env" when none are given), then the
// process environment, and validates the result. server.port maps to
// SERVER_PORT and so on.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return nil, fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
