package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"vtoframes/internal/auth"
	"vtoframes/internal/probe"
	"vtoframes/internal/remotestore"
	"vtoframes/internal/vto"
)

const (
	DefaultCollection = "profiles"
	DefaultTimeout    = 300 * time.Second
)

var errWatchTimeout = errors.New("frame watch timed out")

type Config struct {
	BrandID    string
	Collection string
	Timeout    time.Duration
}

// Watcher waits for rendered frames to show up on the signed-in user's
// profile document.
type Watcher struct {
	store      remotestore.Store
	auth       auth.Client
	probe      probe.Prober
	brandID    string
	collection string
	timeout    time.Duration
	now        func() time.Time
}

func New(store remotestore.Store, authClient auth.Client, prober probe.Prober, cfg Config) (*Watcher, error) {
	if store == nil {
		return nil, fmt.Errorf("remote store is required")
	}
	if authClient == nil {
		return nil, fmt.Errorf("auth client is required")
	}
	if prober == nil {
		return nil, fmt.Errorf("image prober is required")
	}
	brandID := strings.TrimSpace(cfg.BrandID)
	if brandID == "" {
		return nil, fmt.Errorf("brand id is required")
	}
	collection := strings.TrimSpace(cfg.Collection)
	if collection == "" {
		collection = DefaultCollection
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Watcher{
		store:      store,
		auth:       authClient,
		probe:      prober,
		brandID:    brandID,
		collection: collection,
		timeout:    timeout,
		now:        time.Now,
	}, nil
}

func (w *Watcher) Timeout() time.Duration { return w.timeout }

// Await subscribes to the profile document and returns the first frame list
// for sku whose first URL loads as an image.
//
// With skipInitialSnapshot the first delivered snapshot is ignored: it holds
// the state from before a render was requested. Without it, the first
// snapshot decides whether frames exist at all; a missing frame list there is
// reported as NoFramesFound instead of being waited on.
//
// The subscription is closed on every return path. Cancelling ctx returns
// ctx's error; the watch timeout returns a Timeout error.
func (w *Watcher) Await(ctx context.Context, sku string, skipInitialSnapshot bool) (vto.FrameSet, error) {
	user, ok := w.auth.CurrentUser()
	if !ok {
		return vto.FrameSet{}, vto.NotLoggedIn()
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return vto.FrameSet{}, fmt.Errorf("sku is required")
	}

	ctx, cancel := context.WithTimeoutCause(ctx, w.timeout, errWatchTimeout)
	defer cancel()

	box := newMailbox()
	defer box.close()
	unsubscribe, err := w.store.SubscribeDocument(ctx, w.collection, user.UID, box.snapshot, box.fail)
	if err != nil {
		if ctxErr := w.contextError(ctx, sku); ctxErr != nil {
			return vto.FrameSet{}, ctxErr
		}
		return vto.FrameSet{}, &vto.Error{Kind: vto.KindServiceUnavailable, SKU: sku, Err: fmt.Errorf("subscribe profile: %w", err)}
	}
	defer unsubscribe()

	st := &awaitState{sku: sku, skipNext: skipInitialSnapshot, optimistic: !skipInitialSnapshot}
	for {
		select {
		case <-ctx.Done():
			return vto.FrameSet{}, w.contextError(ctx, sku)
		case <-box.ready:
		}
		for _, d := range box.drain() {
			if d.err != nil {
				return vto.FrameSet{}, &vto.Error{Kind: vto.KindServiceUnavailable, SKU: sku, Err: fmt.Errorf("profile subscription: %w", d.err)}
			}
			urls, err := st.evaluate(d.doc, w.brandID)
			if err != nil {
				return vto.FrameSet{}, err
			}
			if len(urls) == 0 {
				continue
			}
			if !w.probe.Test(ctx, urls[0]) {
				if ctxErr := w.contextError(ctx, sku); ctxErr != nil {
					return vto.FrameSet{}, ctxErr
				}
				log.Printf("watcher: first frame for %s not loadable yet", sku)
				continue
			}
			return vto.NewFrameSet(sku, urls, w.now()), nil
		}
	}
}

func (w *Watcher) contextError(ctx context.Context, sku string) error {
	if ctx.Err() == nil {
		return nil
	}
	if errors.Is(context.Cause(ctx), errWatchTimeout) {
		log.Printf("watcher: no frames for %s within %s", sku, w.timeout)
		return &vto.Error{Kind: vto.KindTimeout, SKU: sku, Err: errWatchTimeout}
	}
	return ctx.Err()
}

// awaitState is the per-invocation predicate over delivered snapshots.
type awaitState struct {
	sku        string
	skipNext   bool
	optimistic bool
	evaluated  int
}

// evaluate returns the candidate frame list of doc, nil for "not yet", or an
// error that ends the wait.
func (s *awaitState) evaluate(doc *remotestore.Document, brandID string) ([]string, error) {
	if s.skipNext {
		s.skipNext = false
		return nil, nil
	}
	s.evaluated++
	if doc == nil {
		return nil, vto.NoFrames(s.sku)
	}
	urls := vto.FramesAt(doc.Data, brandID, s.sku)
	if len(urls) == 0 && s.optimistic && s.evaluated == 1 {
		return nil, vto.NoFrames(s.sku)
	}
	return urls, nil
}
