package frames

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vtoframes/internal/auth"
	"vtoframes/internal/cache/memory"
	"vtoframes/internal/probe"
	"vtoframes/internal/vto"
)

const DefaultWarmConcurrency = 4

// VariantResolver is the part of the catalog the orchestrator uses.
type VariantResolver interface {
	Resolve(ctx context.Context, sku string, forceRefresh bool) (vto.Variant, error)
	RefreshStyle(ctx context.Context, styleID string)
}

type Renderer interface {
	RequestRender(ctx context.Context, variantID int64) error
}

type FrameAwaiter interface {
	Await(ctx context.Context, sku string, skipInitialSnapshot bool) (vto.FrameSet, error)
}

// PersistentCache keeps frame sets across restarts. Optional.
type PersistentCache interface {
	Load(key string) (vto.FrameSet, bool, error)
	Save(key string, fs vto.FrameSet) error
	Delete(key string) error
}

type Deps struct {
	Auth      auth.Client
	Catalog   VariantResolver
	Renderer  Renderer
	Watcher   FrameAwaiter
	Probe     probe.Prober
	Persisted PersistentCache
}

// WarmResult reports one background warm-up.
type WarmResult struct {
	SKU    string
	Frames vto.FrameSet
	Err    error
}

type Config struct {
	// Cache bounds the in-memory frame cache. The zero value keeps every
	// entry for the orchestrator's lifetime.
	Cache           memory.Config
	WarmConcurrency int
	OnWarm          func(WarmResult)
}

// Orchestrator serves frame sets for one shopper session: from cache, by
// joining an in-flight fetch, or by rendering and waiting.
type Orchestrator struct {
	auth      auth.Client
	catalog   VariantResolver
	renderer  Renderer
	watcher   FrameAwaiter
	probe     probe.Prober
	persisted PersistentCache

	cache     *memory.Cache[string, vto.FrameSet]
	warmLimit int
	onWarm    func(WarmResult)
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingFetch

	base   context.Context
	stop   context.CancelFunc
	bg     sync.WaitGroup
	closed bool

	metrics metrics
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth client is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("variant catalog is required")
	}
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Watcher == nil {
		return nil, fmt.Errorf("frame watcher is required")
	}
	if deps.Persisted != nil && deps.Probe == nil {
		return nil, fmt.Errorf("a persisted frame cache needs an image prober")
	}
	warm := cfg.WarmConcurrency
	if warm <= 0 {
		warm = DefaultWarmConcurrency
	}
	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		auth:      deps.Auth,
		catalog:   deps.Catalog,
		renderer:  deps.Renderer,
		watcher:   deps.Watcher,
		probe:     deps.Probe,
		persisted: deps.Persisted,
		cache:     memory.New[string, vto.FrameSet](cfg.Cache),
		warmLimit: warm,
		onWarm:    cfg.OnWarm,
		now:       time.Now,
		pending:   make(map[string]*pendingFetch),
		base:      base,
		stop:      stop,
	}, nil
}

// GetFrames returns the frames for sku on the signed-in user's avatar.
//
// Without skipCache a cached frame set is returned with no I/O. Otherwise the
// existing profile is consulted first and a render is requested only when it
// holds no frames. With skipCache a render is always requested and only a
// profile change observed after the request can satisfy it. Concurrent calls
// for the same sku share one fetch.
//
// Cancelling ctx detaches this caller only; the shared fetch keeps running
// while any other caller still waits on it.
func (o *Orchestrator) GetFrames(ctx context.Context, sku string, skipCache bool) (vto.FrameSet, error) {
	user, ok := o.auth.CurrentUser()
	if !ok {
		return vto.FrameSet{}, vto.NotLoggedIn()
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return vto.FrameSet{}, fmt.Errorf("sku is required")
	}
	key := cacheKey(user.UID, sku)

	if !skipCache {
		if fs, ok := o.cache.Get(key); ok {
			o.metrics.cacheHits.Add(1)
			return fs.Clone(), nil
		}
	}
	o.metrics.cacheMisses.Add(1)

	p, err := o.acquire(key, sku, skipCache)
	if err != nil {
		return vto.FrameSet{}, err
	}
	return o.wait(ctx, p)
}

func (o *Orchestrator) acquire(key, sku string, skipCache bool) (*pendingFetch, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, fmt.Errorf("frame orchestrator is closed")
	}
	if p, ok := o.pending[key]; ok {
		p.waiters++
		o.metrics.joins.Add(1)
		return p, nil
	}
	ctx, cancel := context.WithCancel(o.base)
	p := newPendingFetch(key, cancel, o.now())
	o.pending[key] = p
	o.bg.Add(1)
	go o.run(ctx, p, sku, skipCache)
	return p, nil
}

func (o *Orchestrator) wait(ctx context.Context, p *pendingFetch) (vto.FrameSet, error) {
	select {
	case <-p.done:
		return p.result()
	case <-ctx.Done():
	}
	if p.settled() {
		return p.result()
	}
	o.leave(p)
	return vto.FrameSet{}, ctx.Err()
}

// leave drops one waiter; the last one to leave cancels the shared fetch.
func (o *Orchestrator) leave(p *pendingFetch) {
	o.mu.Lock()
	p.waiters--
	abandoned := p.waiters <= 0 && !p.settled()
	if abandoned && o.pending[p.key] == p {
		delete(o.pending, p.key)
	}
	o.mu.Unlock()
	if abandoned {
		log.Printf("frames: fetch %s abandoned by every caller", p.key)
		p.cancel()
	}
}

func (o *Orchestrator) run(ctx context.Context, p *pendingFetch, sku string, skipCache bool) {
	defer o.bg.Done()
	defer p.cancel()

	fs, err := o.fetch(ctx, p.key, sku, skipCache)

	o.mu.Lock()
	// An abandoned fetch has already left the table and may have been
	// replaced by a newer one; its result must not reach the caches.
	current := o.pending[p.key] == p
	if current {
		delete(o.pending, p.key)
	}
	if err == nil && current {
		o.cache.Set(p.key, fs)
	}
	p.settle(fs, err)
	o.mu.Unlock()

	if err != nil {
		log.Printf("frames: fetch %s failed after %s: %v", p.key, o.now().Sub(p.createdAt).Round(time.Millisecond), err)
		return
	}
	if !current {
		log.Printf("frames: dropping result of abandoned fetch %s", p.key)
		return
	}
	if o.persisted != nil {
		if err := o.persisted.Save(p.key, fs); err != nil {
			log.Printf("frames: persist %s: %v", p.key, err)
		}
	}
}

func (o *Orchestrator) fetch(ctx context.Context, key, sku string, skipCache bool) (vto.FrameSet, error) {
	if !skipCache {
		if fs, ok := o.loadPersisted(ctx, key); ok {
			return fs, nil
		}
	}

	variant, err := o.catalog.Resolve(ctx, sku, false)
	if err != nil {
		return vto.FrameSet{}, err
	}

	if !skipCache {
		fs, err := o.watcher.Await(ctx, sku, false)
		if err == nil {
			return fs, nil
		}
		if !errors.Is(err, vto.ErrNoFramesFound) {
			return vto.FrameSet{}, err
		}
		o.metrics.fallbacks.Add(1)
		log.Printf("frames: no frames for %s yet, requesting render of variant %d", sku, variant.ID)
	}
	return o.renderAndAwait(ctx, variant)
}

func (o *Orchestrator) renderAndAwait(ctx context.Context, variant vto.Variant) (vto.FrameSet, error) {
	o.metrics.renders.Add(1)
	if err := o.renderer.RequestRender(ctx, variant.ID); err != nil {
		return vto.FrameSet{}, err
	}
	return o.watcher.Await(ctx, variant.SKU, true)
}

// loadPersisted returns a frame set saved by an earlier process if its first
// frame still loads.
func (o *Orchestrator) loadPersisted(ctx context.Context, key string) (vto.FrameSet, bool) {
	if o.persisted == nil {
		return vto.FrameSet{}, false
	}
	fs, ok, err := o.persisted.Load(key)
	if err != nil {
		log.Printf("frames: read persisted %s: %v", key, err)
		return vto.FrameSet{}, false
	}
	if !ok {
		return vto.FrameSet{}, false
	}
	if !o.probe.Test(ctx, fs.First()) {
		log.Printf("frames: persisted frames for %s are stale", key)
		if err := o.persisted.Delete(key); err != nil {
			log.Printf("frames: drop persisted %s: %v", key, err)
		}
		return vto.FrameSet{}, false
	}
	o.metrics.persistedHits.Add(1)
	return fs, true
}

// GetFramesWithPriority returns the frames for activeSKU and, without making
// the caller wait, warms the cache for every other sku in availableSKUs.
// Warm-up failures are logged and reported through OnWarm only.
func (o *Orchestrator) GetFramesWithPriority(ctx context.Context, activeSKU string, availableSKUs []string, skipCache bool) (vto.FrameSet, error) {
	if _, ok := o.auth.CurrentUser(); !ok {
		return vto.FrameSet{}, vto.NotLoggedIn()
	}
	activeSKU = strings.TrimSpace(activeSKU)
	o.warm(neighbours(activeSKU, availableSKUs), skipCache)
	return o.GetFrames(ctx, activeSKU, skipCache)
}

func (o *Orchestrator) warm(skus []string, skipCache bool) {
	if len(skus) == 0 {
		return
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.bg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.bg.Done()
		var g errgroup.Group
		g.SetLimit(o.warmLimit)
		for _, sku := range skus {
			g.Go(func() error {
				fs, err := o.GetFrames(o.base, sku, skipCache)
				if err != nil {
					o.metrics.warmFailed.Add(1)
					log.Printf("frames: warm %s failed: %v", sku, err)
				} else {
					o.metrics.warmOK.Add(1)
				}
				if o.onWarm != nil {
					o.onWarm(WarmResult{SKU: sku, Frames: fs, Err: err})
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// ResolveVariant exposes catalog resolution to the UI layer.
func (o *Orchestrator) ResolveVariant(ctx context.Context, sku string) (vto.Variant, error) {
	if _, ok := o.auth.CurrentUser(); !ok {
		return vto.Variant{}, vto.NotLoggedIn()
	}
	return o.catalog.Resolve(ctx, sku, false)
}

// RefreshVariants warms the catalog for every variant of a style. Failures
// are logged by the catalog and never returned.
func (o *Orchestrator) RefreshVariants(ctx context.Context, styleID string) error {
	if _, ok := o.auth.CurrentUser(); !ok {
		return vto.NotLoggedIn()
	}
	o.catalog.RefreshStyle(ctx, styleID)
	return nil
}

// Cached returns the in-memory frame set for sku without any I/O.
func (o *Orchestrator) Cached(sku string) (vto.FrameSet, bool) {
	user, ok := o.auth.CurrentUser()
	if !ok {
		return vto.FrameSet{}, false
	}
	fs, ok := o.cache.Get(cacheKey(user.UID, strings.TrimSpace(sku)))
	if !ok {
		return vto.FrameSet{}, false
	}
	return fs.Clone(), true
}

func (o *Orchestrator) Pending() []PendingView {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PendingView, 0, len(o.pending))
	for _, p := range o.pending {
		out = append(out, PendingView{Key: p.key, CreatedAt: p.createdAt, Waiters: p.waiters})
	}
	return out
}

func (o *Orchestrator) Metrics() MetricsSnapshot { return o.metrics.snapshot() }

// Close cancels all in-flight and background work and waits for it to stop.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()
	o.stop()
	o.bg.Wait()
}

func cacheKey(uid, sku string) string {
	return uid + "/" + sku
}

// neighbours returns availableSKUs without blanks, duplicates and active.
func neighbours(active string, available []string) []string {
	seen := map[string]struct{}{active: {}}
	out := make([]string, 0, len(available))
	for _, sku := range available {
		sku = strings.TrimSpace(sku)
		if sku == "" {
			continue
		}
		if _, ok := seen[sku]; ok {
			continue
		}
		seen[sku] = struct{}{}
		out = append(out, sku)
	}
	return out
}
