// Package notifications parses notifications command flags and launches the
// notification runtime.
package notifications

import (
	"context"
	"flag"
	"os"
	"time"

	entrypoint "github.com/louisbranch/taskhub/internal/platform/cmd"
	"github.com/louisbranch/taskhub/internal/platform/config"
	"github.com/louisbranch/taskhub/internal/platform/logging"
	notificationsserver "github.com/louisbranch/taskhub/internal/services/notifications/app"
)

// Config holds notifications command configuration.
type Config struct {
	HTTPAddr          string        `env:"TASKHUB_NOTIFICATIONS_HTTP_ADDR" envDefault:":8088"`
	HealthAddr        string        `env:"TASKHUB_NOTIFICATIONS_HEALTH_ADDR" envDefault:":8089"`
	StoreKind         string        `env:"TASKHUB_NOTIFICATIONS_STORE" envDefault:"sqlite"`
	DBPath            string        `env:"TASKHUB_NOTIFICATIONS_DB_PATH" envDefault:"data/notifications.db"`
	MongoURI          string        `env:"TASKHUB_NOTIFICATIONS_MONGO_URI"`
	MongoDatabase     string        `env:"TASKHUB_NOTIFICATIONS_MONGO_DATABASE" envDefault:"taskhub"`
	RedisAddr         string        `env:"TASKHUB_NOTIFICATIONS_REDIS_ADDR"`
	RedisPassword     string        `env:"TASKHUB_NOTIFICATIONS_REDIS_PASSWORD"`
	RedisDB           int           `env:"TASKHUB_NOTIFICATIONS_REDIS_DB" envDefault:"0"`
	JWTSecret         string        `env:"TASKHUB_NOTIFICATIONS_JWT_SECRET"`
	JWTIssuer         string        `env:"TASKHUB_NOTIFICATIONS_JWT_ISSUER"`
	InternalSecret    string        `env:"TASKHUB_NOTIFICATIONS_INTERNAL_SECRET"`
	AllowedOrigins    string        `env:"TASKHUB_NOTIFICATIONS_ALLOWED_ORIGINS"`
	SweepInterval     time.Duration `env:"TASKHUB_NOTIFICATIONS_SWEEP_INTERVAL" envDefault:"24h"`
	EventBuffer       int           `env:"TASKHUB_NOTIFICATIONS_EVENT_BUFFER" envDefault:"256"`
	HeartbeatInterval time.Duration `env:"TASKHUB_NOTIFICATIONS_HEARTBEAT_INTERVAL" envDefault:"30s"`
	IdleTimeout       time.Duration `env:"TASKHUB_NOTIFICATIONS_IDLE_TIMEOUT" envDefault:"90s"`
	LogLevel          string        `env:"TASKHUB_NOTIFICATIONS_LOG_LEVEL" envDefault:"info"`
	LogFormat         string        `env:"TASKHUB_NOTIFICATIONS_LOG_FORMAT" envDefault:"text"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The HTTP and websocket listen address")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "The gRPC health listen address (empty disables it)")
	fs.StringVar(&cfg.StoreKind, "store", cfg.StoreKind, "Notification store backend: sqlite or mongo")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The notifications SQLite database path")
	fs.StringVar(&cfg.MongoURI, "mongo-uri", cfg.MongoURI, "The MongoDB connection URI")
	fs.StringVar(&cfg.MongoDatabase, "mongo-database", cfg.MongoDatabase, "The MongoDB database name")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for cross-instance push relay (empty disables it)")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database index")
	fs.StringVar(&cfg.JWTIssuer, "jwt-issuer", cfg.JWTIssuer, "Required identity token issuer")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Overdue task sweep interval")
	fs.IntVar(&cfg.EventBuffer, "event-buffer", cfg.EventBuffer, "Pending task event capacity")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "Websocket heartbeat interval")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Websocket session idle timeout")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the notifications runtime.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, os.Stderr)
	if err != nil {
		return err
	}
	log := logger.WithField("service", entrypoint.ServiceNotifications)
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceNotifications, log, func(ctx context.Context) error {
		srv, err := notificationsserver.New(ctx, notificationsserver.RuntimeConfig{
			HTTPAddr:          cfg.HTTPAddr,
			HealthAddr:        cfg.HealthAddr,
			StoreKind:         cfg.StoreKind,
			DBPath:            cfg.DBPath,
			MongoURI:          cfg.MongoURI,
			MongoDatabase:     cfg.MongoDatabase,
			RedisAddr:         cfg.RedisAddr,
			RedisPassword:     cfg.RedisPassword,
			RedisDB:           cfg.RedisDB,
			JWTSecret:         cfg.JWTSecret,
			JWTIssuer:         cfg.JWTIssuer,
			InternalSecret:    cfg.InternalSecret,
			AllowedOrigins:    config.SplitList(cfg.AllowedOrigins),
			SweepInterval:     cfg.SweepInterval,
			EventBuffer:       cfg.EventBuffer,
			HeartbeatInterval: cfg.HeartbeatInterval,
			IdleTimeout:       cfg.IdleTimeout,
			Logger:            log,
		})
		if err != nil {
			return err
		}
		return srv.Serve(ctx)
	})
}
