package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/nextlevelbuilder/gocode/internal/agent"
	"github.com/nextlevelbuilder/gocode/internal/bus"
	"github.com/nextlevelbuilder/gocode/internal/config"
	"github.com/nextlevelbuilder/gocode/internal/db"
	"github.com/nextlevelbuilder/gocode/internal/mcp"
	"github.com/nextlevelbuilder/gocode/internal/permission"
	"github.com/nextlevelbuilder/gocode/internal/provider"
	"github.com/nextlevelbuilder/gocode/internal/session"
	"github.com/nextlevelbuilder/gocode/internal/tools"
	"github.com/nextlevelbuilder/gocode/internal/trace"
)

// app is the assembled runtime behind every command that touches sessions.
type app struct {
	cfg       *config.Config
	db        *db.DB
	bus       *bus.Bus
	store     *session.Store
	perms     *permission.Engine
	providers *provider.Registry
	tools     *tools.Registry
	mcp       *mcp.Manager
	runner    *agent.Runner
	dir       string

	traceShutdown func(context.Context) error
}

// newApp opens the database, runs migrations and wires every component.
// The caller owns the returned app and must Close it.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	database, err := db.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	b := bus.New()
	project := projectID(dir)

	store, err := session.NewStore(database, b, session.Options{
		ProjectID: project,
		Version:   Version,
		ShareBase: cfg.Share.BaseURL,
	})
	if err != nil {
		database.Close()
		return nil, err
	}

	perms, err := permission.NewEngine(ctx, database, b, project)
	if err != nil {
		database.Close()
		return nil, err
	}
	for _, r := range cfg.Permissions {
		rule := permission.Rule{Permission: r.Permission, Pattern: r.Pattern, Action: r.Action}
		if err := perms.Persist(ctx, rule); err != nil {
			slog.Warn("config permission rule not applied", "permission", r.Permission, "error", err)
		}
	}

	providers := provider.NewRegistry(cfg.Providers)

	registry := tools.NewRegistry(cfg.Tools.MaxOutputChars)
	builtins := []tools.Tool{
		tools.NewRead(),
		tools.NewWrite(),
		tools.NewEdit(),
		tools.NewBash(cfg.Tools.BashTimeoutMS),
		tools.NewGlob(),
		tools.NewGrep(),
		tools.NewTodoWrite(store),
		tools.NewTodoRead(store),
	}
	if cfg.Tools.WebFetch {
		builtins = append(builtins, tools.NewWebFetch())
	}
	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			database.Close()
			return nil, err
		}
	}

	runner := agent.NewRunner(store, b, registry, providers, perms, cfg.Agent, dir)
	if err := registry.Register(agent.NewTaskTool(runner)); err != nil {
		database.Close()
		return nil, err
	}

	manager := mcp.NewManager(registry, cfg.MCP)
	if err := manager.Start(ctx); err != nil {
		// Broken MCP servers degrade to missing tools, never a dead CLI.
		slog.Warn("some mcp servers unavailable", "error", err)
	}

	shutdown, err := trace.Setup(ctx, cfg.Trace, Version)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
		shutdown = func(context.Context) error { return nil }
	}

	return &app{
		cfg:           cfg,
		db:            database,
		bus:           b,
		store:         store,
		perms:         perms,
		providers:     providers,
		tools:         registry,
		mcp:           manager,
		runner:        runner,
		dir:           dir,
		traceShutdown: shutdown,
	}, nil
}

func (a *app) Close(ctx context.Context) {
	a.mcp.Stop()
	if err := a.traceShutdown(ctx); err != nil {
		slog.Debug("trace shutdown", "error", err)
	}
	if err := a.db.Close(); err != nil {
		slog.Debug("database close", "error", err)
	}
}

// projectID keys all sessions and permissions for one working directory.
func projectID(dir string) string {
	sum := sha256.Sum256([]byte(dir))
	return "proj_" + hex.EncodeToString(sum[:8])
}
