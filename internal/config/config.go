// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/andresmejia3/vigil/internal/eyestate"
	"github.com/andresmejia3/vigil/internal/worker"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration. Command-line flags override it.
type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	MQTT       MQTTConfig
	Log        LogConfig
	Thresholds eyestate.Thresholds
	Engine     EngineConfig
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// RedisConfig holds the Redis Streams alert sink settings. Empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

// MQTTConfig holds the MQTT alert sink settings. Empty Broker disables it.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// LogConfig selects the zap level and encoding.
type LogConfig struct {
	Level  string
	Format string
}

// EngineConfig locates the landmark engine.
type EngineConfig struct {
	Script    string
	Predictor string
}

// URL builds the connection string. Without POSTGRES_HOST it falls back to
// the local default.
func (c DatabaseConfig) URL() string {
	if c.Host == "" {
		return "postgres://localhost:5432/vigil"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, port, c.Database)
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	// A missing .env is normal; system environment variables still apply.
	_ = godotenv.Load()

	t := eyestate.DefaultThresholds()
	engine := worker.DefaultConfig()
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     os.Getenv("POSTGRES_HOST"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Database: getEnv("POSTGRES_DB", "vigil"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
			Stream:   getEnv("REDIS_STREAM", "vigil:events"),
		},
		MQTT: MQTTConfig{
			Broker:      os.Getenv("MQTT_BROKER"),
			ClientID:    getEnv("MQTT_CLIENT_ID", "vigil-"+uuid.NewString()[:8]),
			Username:    os.Getenv("MQTT_USERNAME"),
			Password:    os.Getenv("MQTT_PASSWORD"),
			TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "vigil"),
			QoS:         byte(getEnvInt("MQTT_QOS", 1)),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Engine: EngineConfig{
			Script:    getEnv("VIGIL_ENGINE_SCRIPT", engine.Script),
			Predictor: getEnv("VIGIL_PREDICTOR", engine.PredictorPath),
		},
	}

	var err error
	if t.Openness, err = getEnvFloat("VIGIL_EAR_THRESHOLD", t.Openness); err != nil {
		return nil, err
	}
	if t.DrowsyAfter, err = getEnvDuration("VIGIL_DROWSY_AFTER", t.DrowsyAfter); err != nil {
		return nil, err
	}
	if t.SleepAfter, err = getEnvDuration("VIGIL_SLEEP_AFTER", t.SleepAfter); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	cfg.Thresholds = t

	if cfg.MQTT.QoS > 2 {
		return nil, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
