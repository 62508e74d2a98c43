package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vtoframes/internal/auth"
	"vtoframes/internal/remotestore"
	"vtoframes/internal/tester"
	"vtoframes/internal/vto"
)

const (
	testBrand = "b1"
	testUID   = "u1"
)

type fakeProbe struct {
	mu    sync.Mutex
	bad   map[string]bool
	calls []string
}

func (p *fakeProbe) Test(_ context.Context, url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, url)
	return !p.bad[url]
}

func (p *fakeProbe) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func profile(sku string, urls ...string) map[string]any {
	frames := make([]any, 0, len(urls))
	for _, u := range urls {
		frames = append(frames, u)
	}
	return map[string]any{
		"vto": map[string]any{
			testBrand: map[string]any{
				sku: map[string]any{"frames": frames},
			},
		},
	}
}

func newWatcher(t *testing.T, store remotestore.Store, p *fakeProbe, timeout time.Duration) *Watcher {
	t.Helper()
	w, err := New(store, auth.NewStatic(auth.User{UID: testUID}, "tok"), p, Config{BrandID: testBrand, Timeout: timeout})
	tester.NoErr(t, err)
	return w
}

type result struct {
	frames vto.FrameSet
	err    error
}

func awaitAsync(ctx context.Context, w *Watcher, sku string, skip bool) <-chan result {
	out := make(chan result, 1)
	go func() {
		fs, err := w.Await(ctx, sku, skip)
		out <- result{fs, err}
	}()
	return out
}

func waitSubscribed(t *testing.T, store *remotestore.MemoryStore) {
	t.Helper()
	tester.Eventually(t, time.Second, func() bool {
		return store.Subscribers(DefaultCollection, testUID) == 1
	}, "watcher never subscribed")
}

func receive(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("await did not return")
		return result{}
	}
}

func TestAwaitIgnoresInitialSnapshotWhenSkipping(t *testing.T) {
	store := remotestore.NewMemoryStore()
	store.Put(DefaultCollection, testUID, profile("RED-M", "old1", "old2"))
	p := &fakeProbe{}
	w := newWatcher(t, store, p, time.Minute)

	ch := awaitAsync(context.Background(), w, "RED-M", true)
	waitSubscribed(t, store)
	time.Sleep(20 * time.Millisecond)
	select {
	case r := <-ch:
		t.Fatalf("resolved from the initial snapshot: %+v", r)
	default:
	}
	tester.Eq(t, len(p.Calls()), 0, "initial snapshot must not be probed")

	store.Put(DefaultCollection, testUID, profile("RED-M", "url1", "url2"))
	r := receive(t, ch)
	tester.NoErr(t, r.err)
	tester.Eq(t, r.frames.URLs, []string{"url1", "url2"})
	tester.Eq(t, r.frames.VariantSKU, "RED-M")
	tester.Eq(t, store.Subscribers(DefaultCollection, testUID), 0)
}

func TestAwaitResolvesFromExistingFrames(t *testing.T) {
	store := remotestore.NewMemoryStore()
	store.Put(DefaultCollection, testUID, profile("RED-M", "url1", "url2"))
	w := newWatcher(t, store, &fakeProbe{}, time.Minute)

	fs, err := w.Await(context.Background(), "RED-M", false)
	tester.NoErr(t, err)
	tester.Eq(t, fs.URLs, []string{"url1", "url2"})
	tester.Eq(t, store.Subscribers(DefaultCollection, testUID), 0)
}

func TestAwaitWaitsForLoadableFirstFrame(t *testing.T) {
	store := remotestore.NewMemoryStore()
	store.Put(DefaultCollection, testUID, profile("RED-M", "broken", "b2"))
	p := &fakeProbe{bad: map[string]bool{"broken": true}}
	w := newWatcher(t, store, p, time.Minute)

	ch := awaitAsync(context.Background(), w, "RED-M", false)
	tester.Eventually(t, time.Second, func() bool { return len(p.Calls()) == 1 }, "first frame never probed")
	select {
	case r := <-ch:
		t.Fatalf("resolved with an unloadable first frame: %+v", r)
	default:
	}

	store.Put(DefaultCollection, testUID, profile("RED-M", "good", "g2", "g3"))
	r := receive(t, ch)
	tester.NoErr(t, r.err)
	tester.Eq(t, r.frames.URLs, []string{"good", "g2", "g3"})
	tester.Eq(t, p.Calls(), []string{"broken", "good"})
}

func TestAwaitOptimisticReportsNoFrames(t *testing.T) {
	store := remotestore.NewMemoryStore()
	store.Put(DefaultCollection, testUID, profile("BLUE-S", "other"))
	w := newWatcher(t, store, &fakeProbe{}, time.Minute)

	_, err := w.Await(context.Background(), "RED-M", false)
	tester.Kind(t, err, vto.KindNoFramesFound)
	tester.True(t, errors.Is(err, vto.ErrNoFramesFound))
	tester.Eq(t, store.Subscribers(DefaultCollection, testUID), 0)
}

func TestAwaitMissingProfile(t *testing.T) {
	store := remotestore.NewMemoryStore()
	w := newWatcher(t, store, &fakeProbe{}, time.Minute)

	_, err := w.Await(context.Background(), "RED-M", false)
	tester.Kind(t, err, vto.KindNoFramesFound)
}

func TestAwaitSkippingToleratesMissingThenFrames(t *testing.T) {
	store := remotestore.NewMemoryStore()
	w := newWatcher(t, store, &fakeProbe{}, time.Minute)

	ch := awaitAsync(context.Background(), w, "RED-M", true)
	waitSubscribed(t, store)
	store.Put(DefaultCollection, testUID, map[string]any{"vto": map[string]any{}})
	store.Put(DefaultCollection, testUID, profile("RED-M", "url1"))

	r := receive(t, ch)
	tester.NoErr(t, r.err)
	tester.Eq(t, r.frames.URLs, []string{"url1"})
}

func TestAwaitTimesOutAndUnsubscribes(t *testing.T) {
	store := remotestore.NewMemoryStore()
	store.Put(DefaultCollection, testUID, profile("RED-M"))
	p := &fakeProbe{}
	w := newWatcher(t, store, p, 30*time.Millisecond)

	_, err := w.Await(context.Background(), "RED-M", true)
	tester.Kind(t, err, vto.KindTimeout)
	tester.True(t, vto.Retryable(err))
	tester.Eq(t, store.Subscribers(DefaultCollection, testUID), 0)

	store.Put(DefaultCollection, testUID, profile("RED-M", "late"))
	time.Sleep(20 * time.Millisecond)
	tester.Eq(t, len(p.Calls()), 0, "no callbacks after the timeout")
}

func TestAwaitCallerCancel(t *testing.T) {
	store := remotestore.NewMemoryStore()
	w := newWatcher(t, store, &fakeProbe{}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	ch := awaitAsync(ctx, w, "RED-M", true)
	waitSubscribed(t, store)
	cancel()

	r := receive(t, ch)
	tester.True(t, errors.Is(r.err, context.Canceled), "caller cancel is not a timeout")
	tester.Eq(t, vto.KindOf(r.err), vto.Kind(""))
	tester.Eq(t, store.Subscribers(DefaultCollection, testUID), 0)
}

func TestAwaitRequiresUser(t *testing.T) {
	store := remotestore.NewMemoryStore()
	w, err := New(store, auth.NewStatic(auth.User{}, ""), &fakeProbe{}, Config{BrandID: testBrand})
	tester.NoErr(t, err)

	_, err = w.Await(context.Background(), "RED-M", false)
	tester.Kind(t, err, vto.KindUserNotLoggedIn)
	tester.Eq(t, store.Stats().Subscribes, uint64(0))
	tester.Eq(t, w.Timeout(), DefaultTimeout)
}

type brokenStore struct{ remotestore.Store }

func (brokenStore) SubscribeDocument(ctx context.Context, collection, id string, onSnapshot remotestore.SnapshotFunc, onError remotestore.ErrorFunc) (remotestore.Unsubscribe, error) {
	go onError(errors.New("permission denied"))
	return func() {}, nil
}

func TestAwaitSubscriptionError(t *testing.T) {
	w := newWatcher(t, brokenStore{Store: remotestore.NewMemoryStore()}, &fakeProbe{}, time.Minute)

	_, err := w.Await(context.Background(), "RED-M", false)
	tester.Kind(t, err, vto.KindServiceUnavailable)
}
