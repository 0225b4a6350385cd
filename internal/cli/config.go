package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/railhub/internal/adapters/file"
	"github.com/aretw0/railhub/internal/config"
	"github.com/aretw0/railhub/internal/logging"
	"github.com/aretw0/railhub/pkg/domain"
)

// DefaultEnvFile is loaded when present and no other env file is named.
const DefaultEnvFile = ".env"

// LoadOptions locate the station file and its environment overrides.
type LoadOptions struct {
	ConfigPath string
	EnvFiles   []string
	// Lookup reads one environment variable. Defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// LoadConfig reads the station file, applies environment overrides and validates the result.
func LoadConfig(ctx context.Context, opts LoadOptions) (*config.Config, *file.Store, error) {
	envFiles := opts.EnvFiles
	if len(envFiles) == 0 {
		envFiles = []string{DefaultEnvFile}
	}
	if err := config.LoadEnvFiles(envFiles...); err != nil {
		return nil, nil, err
	}

	store := file.New(opts.ConfigPath)
	cfg, err := store.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrConfigNotFound) {
			return nil, nil, fmt.Errorf("%w (run 'railhub config init' first)", err)
		}
		return nil, nil, err
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid station file %s: %w", store.Path, err)
	}
	return cfg, store, nil
}

// NewLogger builds the application logger from the log section.
// debug forces the debug level.
func NewLogger(cfg *config.Config, debug bool) *slog.Logger {
	level := cfg.Log.Level
	if debug {
		level = "debug"
	}
	return logging.New(logging.Options{Level: level, Format: cfg.Log.Format})
}

// InitConfig writes a fresh station file for the given id and role.
// An existing file is kept unless force is set.
func InitConfig(ctx context.Context, path, id string, role domain.Role, force bool) (*config.Config, error) {
	store := file.New(path)
	if store.Exists() && !force {
		return nil, fmt.Errorf("station file %s already exists (use --force to overwrite)", store.Path)
	}

	cfg := config.Default()
	if id != "" {
		cfg.Station.ID = id
		cfg.Station.Label = id
	}
	if role != "" {
		cfg.Station.Role = role
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := store.Save(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
