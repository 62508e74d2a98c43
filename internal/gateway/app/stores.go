package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"vtoframes/internal/cache/disk"
	"vtoframes/internal/gateway/config"
	"vtoframes/internal/probe"
	"vtoframes/internal/remotestore"
)

// openRemoteStore picks the document store backing the catalog and the
// profile watcher. The returned close func releases its connections.
func openRemoteStore(ctx context.Context, cfg *config.Config) (remotestore.Store, func() error, error) {
	switch cfg.Store.Backend {
	case "postgres":
		return initPostgresStore(cfg.Store.PostgresDSN)
	case "firestore":
		return initFirestoreStore(ctx, cfg.Store)
	case "memory", "":
		return initInMemoryStore(cfg.Store.SeedFile)
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func initPostgresStore(dsn string) (remotestore.Store, func() error, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
	}
	store, err := remotestore.NewPostgres(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
	}
	log.Printf("remote store: postgres")
	return store, store.Close, nil
}

func initFirestoreStore(ctx context.Context, cfg config.StoreConfig) (remotestore.Store, func() error, error) {
	project := strings.TrimSpace(cfg.FirestoreProject)
	if project == "" {
		return nil, nil, fmt.Errorf("FIRESTORE_PROJECT_ID is required for the firestore store")
	}
	var opts []option.ClientOption
	if f := strings.TrimSpace(cfg.CredentialsFile); f != "" {
		opts = append(opts, option.WithCredentialsFile(f))
	}
	client, err := firestore.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init firestore client: %w", err)
	}
	log.Printf("remote store: firestore project=%s", project)
	return remotestore.NewFirestoreStore(client), client.Close, nil
}

func initInMemoryStore(seedFile string) (remotestore.Store, func() error, error) {
	store := remotestore.NewMemoryStore()
	if path := strings.TrimSpace(seedFile); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open seed file: %w", err)
		}
		defer f.Close()
		if err := store.LoadSeed(f); err != nil {
			return nil, nil, fmt.Errorf("failed to load seed file %s: %w", path, err)
		}
		log.Printf("remote store: in-memory seeded from %s", path)
	} else {
		log.Printf("remote store: in-memory (empty)")
	}
	return store, func() error { return nil }, nil
}

// newProber validates https frame URLs over HTTP and, when object storage is
// configured, s3:// URLs through it.
func newProber(cfg *config.Config) (probe.Prober, error) {
	router := probe.NewRouter(probe.NewHTTP(nil))
	if !cfg.S3.Enabled() {
		return router, nil
	}
	s3, err := probe.NewS3(probe.S3Config{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize s3 prober: %w", err)
	}
	log.Printf("probe: s3 frames via %s", cfg.S3.Endpoint)
	return router.Handle("s3", s3), nil
}

// newPersistedCache returns nil when no cache dir is configured.
func newPersistedCache(cfg *config.Config) (*disk.FrameStore, error) {
	if strings.TrimSpace(cfg.FrameCache.Dir) == "" {
		return nil, nil
	}
	store, err := disk.NewFrameStore(disk.Config{
		Dir: cfg.FrameCache.Dir,
		TTL: cfg.FrameCache.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open frame cache: %w", err)
	}
	log.Printf("frame cache: persisted under %s", cfg.FrameCache.Dir)
	return store, nil
}
