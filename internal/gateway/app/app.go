package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"vtoframes/internal/auth"
	"vtoframes/internal/cache/memory"
	"vtoframes/internal/catalog"
	"vtoframes/internal/frames"
	"vtoframes/internal/gateway/config"
	"vtoframes/internal/gateway/handler/rpc"
	"vtoframes/internal/gateway/server"
	"vtoframes/internal/gateway/session"
	"vtoframes/internal/probe"
	"vtoframes/internal/remotestore"
	"vtoframes/internal/render"
	"vtoframes/internal/watcher"
)

// Core holds the process-wide pieces every shopper session shares.
type Core struct {
	cfg       *config.Config
	Store     remotestore.Store
	Catalog   *catalog.Catalog
	Probe     probe.Prober
	persisted frames.PersistentCache
	closeFn   func() error
}

func NewCore(ctx context.Context, cfg *config.Config) (*Core, error) {
	if strings.TrimSpace(cfg.BrandID) == "" {
		return nil, fmt.Errorf("VTO_BRAND_ID is required")
	}
	store, closeStore, err := openRemoteStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.New(store, catalog.Config{
		BrandID:    cfg.BrandID,
		Collection: cfg.VariantCollection,
		CacheSize:  cfg.VariantCacheSize,
	})
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("failed to init catalog: %w", err)
	}
	prober, err := newProber(cfg)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	c := &Core{cfg: cfg, Store: store, Catalog: cat, Probe: prober, closeFn: closeStore}
	fs, err := newPersistedCache(cfg)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	if fs != nil {
		c.persisted = fs
	}
	return c, nil
}

// NewOrchestrator builds the frame orchestrator for one signed-in shopper.
func (c *Core) NewOrchestrator(user auth.Client, onWarm func(frames.WarmResult)) (*frames.Orchestrator, error) {
	renderer, err := render.New(render.Config{BaseURL: c.cfg.RenderBaseURL}, user)
	if err != nil {
		return nil, fmt.Errorf("failed to init render client: %w", err)
	}
	w, err := watcher.New(c.Store, user, c.Probe, watcher.Config{
		BrandID:    c.cfg.BrandID,
		Collection: c.cfg.ProfileCollection,
		Timeout:    c.cfg.WatchTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init frame watcher: %w", err)
	}
	return frames.New(frames.Deps{
		Auth:      user,
		Catalog:   c.Catalog,
		Renderer:  renderer,
		Watcher:   w,
		Probe:     c.Probe,
		Persisted: c.persisted,
	}, frames.Config{
		Cache: memory.Config{
			MaxEntries: c.cfg.FrameCache.MaxEntries,
			TTL:        c.cfg.FrameCache.TTL,
		},
		WarmConcurrency: c.cfg.WarmConcurrency,
		OnWarm:          onWarm,
	})
}

func (c *Core) Close() error {
	if c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}

type App struct {
	server   *server.Server
	sessions *session.Manager
	core     *Core
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	ctx := context.Background()

	// Dependencies
	core, err := NewCore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		_ = core.Close()
		return nil, err
	}
	sessions, err := session.NewManager(session.Config{
		TTL:        cfg.Session.TTL,
		MaxEntries: cfg.Session.MaxEntries,
	}, core.NewOrchestrator)
	if err != nil {
		_ = core.Close()
		return nil, err
	}

	frameHandler := rpc.NewFrameHandler(sessions, cfg.AllowedOrigins)

	// Routing & Server
	mux := server.NewMux(frameHandler, verifier, cfg.AllowedOrigins)
	srv := server.New(cfg.Port, mux)

	return &App{
		server:   srv,
		sessions: sessions,
		core:     core,
	}, nil
}

func newVerifier(ctx context.Context, cfg *config.Config) (auth.Verifier, error) {
	if strings.TrimSpace(cfg.Firebase.ProjectID) == "" {
		if !cfg.IsLocal() {
			return nil, fmt.Errorf("FIREBASE_PROJECT_ID is required outside local env")
		}
		log.Printf("auth: accepting dev:<uid> tokens (local env)")
		return auth.DevVerifier{}, nil
	}
	v, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Store.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to init token verifier: %w", err)
	}
	return v, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	a.sessions.Close()
	return errors.Join(err, a.core.Close())
}
