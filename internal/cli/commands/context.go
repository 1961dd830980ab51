// Package commands implements the clouddq subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	cliconfig "github.com/hejnal/cloud-data-quality/internal/cli/config"
	"github.com/hejnal/cloud-data-quality/internal/compiler"
	"github.com/hejnal/cloud-data-quality/internal/config"
	"github.com/hejnal/cloud-data-quality/internal/state"
)

type configKey struct{}
type loggerKey struct{}

// WithConfig stores the project config in the context.
func WithConfig(ctx context.Context, cfg *cliconfig.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// WithLogger stores the logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetConfig retrieves the project config from the command context.
func GetConfig(ctx context.Context) *cliconfig.Config {
	if c, ok := ctx.Value(configKey{}).(*cliconfig.Config); ok {
		return c
	}
	return &cliconfig.Config{
		ConfigsDir: cliconfig.DefaultConfigsDir,
		StatePath:  cliconfig.DefaultStatePath,
		Output:     cliconfig.DefaultOutput,
	}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// CommandContext bundles everything a subcommand needs: the resolved
// project config, logger, loaded definition suite, and a compiler over
// it.
type CommandContext struct {
	Config   *cliconfig.Config
	Logger   *slog.Logger
	Suite    *config.Suite
	Compiler *compiler.Compiler
}

// NewCommandContext loads the definition suite and builds a compiler.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg := GetConfig(cmd.Context())
	logger := GetLogger(cmd.Context())

	suite, err := config.LoadDir(cfg.ConfigsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load configs: %w", err)
	}

	comp := compiler.New(suite, compiler.Options{
		Environment: cfg.Environment,
		Logger:      logger,
	})

	return &CommandContext{
		Config:   cfg,
		Logger:   logger,
		Suite:    suite,
		Compiler: comp,
	}, nil
}

// OpenStore opens the validation results store, creating its parent
// directory when needed. The caller owns the returned store.
func (c *CommandContext) OpenStore() (*state.Store, error) {
	dir := filepath.Dir(c.Config.StatePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store := state.NewStore(c.Logger)
	if err := store.Open(c.Config.StatePath); err != nil {
		return nil, err
	}
	return store, nil
}
