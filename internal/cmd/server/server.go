// Package server parses server flags and launches the session core
// service.
package server

import (
	"context"
	"flag"

	"github.com/louisbranch/roundtable/internal/app"
	entrypoint "github.com/louisbranch/roundtable/internal/platform/cmd"
)

// Config holds server command configuration.
type Config struct {
	Port int `env:"ROUNDTABLE_PORT" envDefault:"8080"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The session core gRPC server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the session core service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceServer, func(context.Context) error {
		return app.Run(ctx, cfg.Port)
	})
}
