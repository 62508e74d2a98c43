package remotestore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"vtoframes/internal/tester"
)

type recorder struct {
	mu   sync.Mutex
	docs []*Document
}

func (r *recorder) onSnapshot(doc *Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc)
}

func (r *recorder) snapshots() []*Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Document(nil), r.docs...)
}

func TestMemoryStoreGetAndQuery(t *testing.T) {
	s := NewMemoryStore()
	s.Put("assets", "1", map[string]any{"brand_id": "b1", "sku": "RED-M", "id": 1})
	s.Put("assets", "2", map[string]any{"brand_id": "b1", "sku": "BLU-M", "id": float64(2)})
	s.Put("assets", "3", map[string]any{"brand_id": "b2", "sku": "RED-M"})

	doc, err := s.GetDocument(context.Background(), "assets", "1")
	tester.NoErr(t, err)
	tester.Eq(t, doc.Data["sku"], any("RED-M"))

	_, err = s.GetDocument(context.Background(), "assets", "9")
	tester.True(t, errors.Is(err, ErrNotFound))

	docs, err := s.QueryDocuments(context.Background(), "assets", Eq("brand_id", "b1"), In("sku", []string{"RED-M", "BLU-M"}))
	tester.NoErr(t, err)
	tester.Eq(t, len(docs), 2)
	tester.Eq(t, docs[0].ID, "1")

	docs, err = s.QueryDocuments(context.Background(), "assets", Eq("id", 2))
	tester.NoErr(t, err)
	tester.Eq(t, len(docs), 1, "int and float64 ids compare equal")

	// Returned data is a copy.
	doc.Data["sku"] = "changed"
	again, err := s.GetDocument(context.Background(), "assets", "1")
	tester.NoErr(t, err)
	tester.Eq(t, again.Data["sku"], any("RED-M"))
}

func TestMemoryStoreSubscribeDeliversInitialAndChanges(t *testing.T) {
	s := NewMemoryStore()
	rec := &recorder{}
	unsub, err := s.SubscribeDocument(context.Background(), "profiles", "u1", rec.onSnapshot, nil)
	tester.NoErr(t, err)

	s.Put("profiles", "u1", map[string]any{"n": 1})
	s.Delete("profiles", "u1")

	tester.Eventually(t, time.Second, func() bool { return len(rec.snapshots()) == 3 }, "three snapshots")
	got := rec.snapshots()
	tester.True(t, got[0] == nil, "initial snapshot of a missing doc is nil")
	tester.Eq(t, got[1].Data["n"], any(1))
	tester.True(t, got[2] == nil, "deleted doc is delivered as nil")

	unsub()
	unsub()
	tester.Eq(t, s.Subscribers("profiles", "u1"), 0)
	s.Put("profiles", "u1", map[string]any{"n": 2})
	time.Sleep(20 * time.Millisecond)
	tester.Eq(t, len(rec.snapshots()), 3)
}

func TestMemoryStoreSubscriptionEndsWithContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.SubscribeDocument(ctx, "profiles", "u1", func(*Document) {}, nil)
	tester.NoErr(t, err)
	tester.Eq(t, s.Subscribers("profiles", "u1"), 1)

	cancel()
	tester.Eventually(t, time.Second, func() bool { return s.Subscribers("profiles", "u1") == 0 }, "subscription released")

	_, err = s.SubscribeDocument(ctx, "profiles", "u1", func(*Document) {}, nil)
	tester.True(t, errors.Is(err, context.Canceled))
}

func TestMemoryStoreLoadSeed(t *testing.T) {
	s := NewMemoryStore()
	err := s.LoadSeed(strings.NewReader(`{"profiles":{"u1":{"vto":{}}},"assets":{"7":{"sku":"A"}}}`))
	tester.NoErr(t, err)
	_, err = s.GetDocument(context.Background(), "profiles", "u1")
	tester.NoErr(t, err)
	_, err = s.GetDocument(context.Background(), "assets", "7")
	tester.NoErr(t, err)

	tester.True(t, s.LoadSeed(strings.NewReader(`[`)) != nil)
}

func TestBuildQuery(t *testing.T) {
	q, args, err := buildQuery("assets", []Filter{Eq("brand_id", "b1"), In("sku", []string{"A", "B"})})
	tester.NoErr(t, err)
	tester.Eq(t, q, `SELECT id, data FROM documents WHERE collection=$1 AND data->($2::text) = $3::jsonb AND data->($4::text) IN (SELECT jsonb_array_elements($5::jsonb)) ORDER BY id`)
	tester.Eq(t, args, []any{"assets", "brand_id", `"b1"`, "sku", `["A","B"]`})

	_, _, err = buildQuery("assets", []Filter{{Field: "x", Op: "like", Value: "y"}})
	tester.True(t, err != nil)
	_, _, err = buildQuery("assets", []Filter{{Field: " ", Op: OpEq, Value: "y"}})
	tester.True(t, err != nil)
}
