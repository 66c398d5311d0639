package app

import (
	"context"

	"quorum/internal/config"
)

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *config.Config, path string) *AppBuilder {
	return NewAppBuilder(cfg, path)
}
