package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/noah-isme/labrecord-api/internal/grading"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	RedisDialTimeout       time.Duration
	NATSURL                string
	RealtimeChannelBase    string
	RealtimeSendBuffer     int
	JWTSecret              string
	CORSAllowOrigins       string
	MetricsToken           string
	DefaultGradeScale      grading.Scale
	GradeScaleCacheTTL     time.Duration
	VivaPlaceholders       bool
	SubmissionRetries      int
	RateLimitMax           int
	RateLimitWindow        time.Duration
	NotificationPageLimit  int
	ShutdownTimeout        time.Duration
	RealtimePingInterval   time.Duration
	DatabaseMaxOpenConns   int
	DatabaseMaxIdleConns   int
	DatabaseConnMaxLifeTTL time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Production reports whether the service runs with production defaults.
func (c Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("LAB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Lab Record API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("realtime.channel_base", "labrecord")
	v.SetDefault("realtime.send_buffer", 32)
	v.SetDefault("realtime.ping_interval", "30s")
	v.SetDefault("grading.default_scale", "90:A+,80:A,70:B+,60:B,50:C,40:D,0:F")
	v.SetDefault("grading.scale_cache_ttl", "10m")
	v.SetDefault("viva.placeholder_submissions", true)
	v.SetDefault("submission.retries", 3)
	v.SetDefault("notification.page_limit", 50)
	v.SetDefault("ratelimit.max", 30)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("shutdown.timeout", "10s")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	scale, err := grading.ParseScale(v.GetString("grading.default_scale"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid default grade scale: %w", err)
	}

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:               v.GetString("app.name"),
		AppEnv:                v.GetString("app.env"),
		AppPort:               v.GetString("app.port"),
		DatabaseURL:           v.GetString("database.url"),
		RedisURL:              v.GetString("redis.url"),
		NATSURL:               v.GetString("nats.url"),
		RealtimeChannelBase:   v.GetString("realtime.channel_base"),
		RealtimeSendBuffer:    v.GetInt("realtime.send_buffer"),
		JWTSecret:             v.GetString("jwt.secret"),
		CORSAllowOrigins:      v.GetString("cors.allow_origins"),
		MetricsToken:          v.GetString("metrics.token"),
		DefaultGradeScale:     scale,
		VivaPlaceholders:      v.GetBool("viva.placeholder_submissions"),
		SubmissionRetries:     v.GetInt("submission.retries"),
		RateLimitMax:          v.GetInt("ratelimit.max"),
		DatabaseMaxOpenConns:  v.GetInt("database.max_open_conns"),
		DatabaseMaxIdleConns:  v.GetInt("database.max_idle_conns"),
		NotificationPageLimit: v.GetInt("notification.page_limit"),
	}
	durations["grading.scale_cache_ttl"] = &cfg.GradeScaleCacheTTL
	durations["ratelimit.window"] = &cfg.RateLimitWindow
	durations["shutdown.timeout"] = &cfg.ShutdownTimeout
	durations["realtime.ping_interval"] = &cfg.RealtimePingInterval
	durations["database.conn_max_lifetime"] = &cfg.DatabaseConnMaxLifeTTL
	durations["redis.dial_timeout"] = &cfg.RedisDialTimeout

	for key, target := range durations {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		*target = parsed
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url must be provided")
	}

	if cfg.RealtimeSendBuffer <= 0 {
		cfg.RealtimeSendBuffer = 32
	}

	if cfg.SubmissionRetries <= 0 {
		cfg.SubmissionRetries = 3
	}

	return cfg, nil
}
