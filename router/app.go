// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/ai-Ev1lC0rP/N8N2MCP/builder"
	"github.com/ai-Ev1lC0rP/N8N2MCP/config"
	"github.com/ai-Ev1lC0rP/N8N2MCP/credentials"
	"github.com/ai-Ev1lC0rP/N8N2MCP/engine"
	"github.com/ai-Ev1lC0rP/N8N2MCP/registry"
	"github.com/ai-Ev1lC0rP/N8N2MCP/shared/logger"
)

const (
	shutdownTimeout     = 10 * time.Second
	storeStartupTimeout = 10 * time.Second
)

// Dependencies overrides the collaborators NewApp would otherwise create
// from the configuration. Zero values mean "derive from config".
type Dependencies struct {
	Extractor  credentials.Extractor
	Storage    registry.Storage
	Secrets    config.SecretsManager
	HTTPClient *http.Client
}

// App is the assembled router process.
type App struct {
	cfg      *config.Config
	provider *credentials.Provider
	registry *registry.Registry
	notifier *registry.Notifier
	handler  http.Handler
	logger   *logger.Logger
}

// NewApp wires the router. Missing or unextractable engine connection
// parameters are returned as a *credentials.ConfigurationError and the
// caller must not serve. A failed registry load is logged and startup
// continues with an empty registry.
func NewApp(ctx context.Context, cfg *config.Config, deps Dependencies) (*App, error) {
	l := logger.New("router")
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := resolveSecrets(ctx, cfg, deps.Secrets); err != nil {
		return nil, &credentials.ConfigurationError{Field: "engine_credential", Reason: "secret lookup failed", Cause: err}
	}

	extractor := deps.Extractor
	if extractor == nil {
		var err error
		if extractor, err = credentials.NewExtractor(cfg.Engine); err != nil {
			return nil, err
		}
	}
	provider, err := credentials.Init(ctx, extractor, cfg.Engine.URL, cfg.Engine.APIKey)
	if err != nil {
		return nil, err
	}

	storage, err := openStorage(ctx, cfg, deps.Storage, l)
	if err != nil {
		return nil, err
	}
	reg := registry.New(storage)
	loadCtx, cancelLoad := context.WithTimeout(ctx, storeStartupTimeout)
	err = reg.LoadAll(loadCtx)
	cancelLoad()
	if err != nil {
		l.Error("", "", "Registry load failed, starting with an empty registry", map[string]interface{}{"error": err.Error()})
	} else {
		l.Info("", "", "Registry loaded", map[string]interface{}{"entries": reg.Len()})
	}

	app := &App{cfg: cfg, provider: provider, registry: reg, logger: l}

	if cfg.RedisURL != "" {
		notifier, err := registry.NewNotifier(ctx, cfg.RedisURL, cfg.NotifyChannel)
		if err == nil {
			err = notifier.Subscribe(ctx, reg)
		}
		if err != nil {
			l.Warn("", "", "Registry change notifications disabled", map[string]interface{}{"error": err.Error()})
			if notifier != nil {
				_ = notifier.Close()
			}
		} else {
			reg.SetPublisher(notifier)
			app.notifier = notifier
		}
	}

	cc := provider.Context()
	engineClient := engine.NewClient(engine.Config{
		BaseURL:          cc.EngineURL,
		APIKey:           cc.EngineCredential,
		SessionToken:     cc.SessionToken,
		BrowserID:        cc.ClientFingerprint,
		DetailTimeout:    cfg.Engine.DetailTimeout,
		ExecutionTimeout: cfg.Engine.ExecutionTimeout,
		HTTPClient:       deps.HTTPClient,
	})
	b := builder.New(builder.Options{
		DetailTimeout:    cfg.Engine.DetailTimeout,
		ExecutionTimeout: cfg.Engine.ExecutionTimeout,
		HTTPClient:       deps.HTTPClient,
		Logger:           logger.New("builder"),
	})

	paths := NewPathTranslator(cfg.Prefix)
	r := mux.NewRouter()
	NewAdminAPI(reg, paths, provider, engineClient, NewAdminAuth(cfg.AdminJWTSecret)).RegisterRoutes(r)

	gateway := NewGateway(paths, reg, BuilderFunc(b, provider), logger.New("gateway"))
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
	})
	app.handler = corsHandler.Handler(gateway.Middleware(r))
	return app, nil
}

func resolveSecrets(ctx context.Context, cfg *config.Config, sm config.SecretsManager) error {
	if cfg.Engine.SecretARN == "" {
		return nil
	}
	if sm == nil {
		if strings.HasPrefix(cfg.Engine.SecretARN, "arn:") {
			aws, err := config.NewAWSSecretsManager(ctx, config.AWSSecretsManagerOptions{Region: cfg.Engine.AWSRegion})
			if err != nil {
				return err
			}
			sm = aws
		} else {
			sm = config.NewEnvSecretsManager(nil)
		}
	}
	return config.ResolveEngineSecrets(ctx, &cfg.Engine, sm)
}

func openStorage(ctx context.Context, cfg *config.Config, storage registry.Storage, l *logger.Logger) (registry.Storage, error) {
	if storage != nil {
		return storage, nil
	}
	if cfg.DatabaseURL == "" {
		l.Warn("", "", "DATABASE_URL not set, registrations will not survive a restart", nil)
		return registry.NewMemoryStorage(), nil
	}

	pg, err := registry.NewPostgreSQLStorage(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open registry store: %w", err)
	}
	schemaCtx, cancel := context.WithTimeout(ctx, storeStartupTimeout)
	defer cancel()
	if err := pg.EnsureSchema(schemaCtx); err != nil {
		l.Error("", "", "Registry schema bootstrap failed", map[string]interface{}{"error": err.Error()})
	}
	return pg, nil
}

// Handler returns the full HTTP handler: CORS, then the gateway, then the
// admin routes.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Registry returns the in-process registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Provider returns the connection provider.
func (a *App) Provider() *credentials.Provider {
	return a.provider
}

// Run listens on the configured address until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		_ = a.Close()
		return fmt.Errorf("listen on %s: %w", a.cfg.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully and
// releases the registry.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("", "", "Router listening", map[string]interface{}{
			"addr":   ln.Addr().String(),
			"prefix": a.cfg.Prefix,
		})
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		_ = a.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	_ = a.Close()
	a.logger.Info("", "", "Router stopped", nil)
	return err
}

// Close releases the notifier and the registry store.
func (a *App) Close() error {
	if a.notifier != nil {
		_ = a.notifier.Close()
	}
	return a.registry.Close()
}
