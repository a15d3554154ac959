package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/deepclaude-at/internal/compose"
	"github.com/rakunlabs/deepclaude-at/internal/config"
	"github.com/rakunlabs/deepclaude-at/internal/envstore"
	"github.com/rakunlabs/deepclaude-at/internal/server"
	"github.com/rakunlabs/deepclaude-at/internal/upstream"
)

var (
	name    = "deepclaude-at"
	version = "v0.0.0"
)

func main() {
	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func configPath() string {
	if v := os.Getenv("AT_CONFIG_PATH"); v != "" {
		return v
	}
	return "config.toml"
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, configPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	envStore, err := envstore.New(cfg.Upstream.EnvPath)
	if err != nil {
		return fmt.Errorf("failed to open env store: %w", err)
	}

	client, err := upstream.NewClient()
	if err != nil {
		return fmt.Errorf("failed to build upstream client: %w", err)
	}

	engine := compose.NewEngine(client, cfg.UpstreamConfig())

	srv, err := server.New(cfg, engine, envStore)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	return srv.Start(ctx)
}
