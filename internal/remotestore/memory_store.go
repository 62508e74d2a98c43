package remotestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryStore is an in-process Store used for local development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]map[string]any
	subs map[string]map[*subscription]struct{}

	gets       atomic.Uint64
	queries    atomic.Uint64
	subscribes atomic.Uint64
}

type MemoryStats struct {
	Gets       uint64
	Queries    uint64
	Subscribes uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]map[string]map[string]any),
		subs: make(map[string]map[*subscription]struct{}),
	}
}

// Put replaces the document and notifies its subscribers.
func (s *MemoryStore) Put(collection, id string, data map[string]any) {
	collection = strings.TrimSpace(collection)
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		s.docs[collection] = coll
	}
	coll[id] = copyData(data)
	s.notifyLocked(collection, id)
}

func (s *MemoryStore) Delete(collection, id string) {
	collection = strings.TrimSpace(collection)
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if coll, ok := s.docs[collection]; ok {
		delete(coll, id)
	}
	s.notifyLocked(collection, id)
}

func (s *MemoryStore) notifyLocked(collection, id string) {
	for sub := range s.subs[docKey(collection, id)] {
		sub.push(s.snapshotLocked(collection, id))
	}
}

func (s *MemoryStore) snapshotLocked(collection, id string) *Document {
	data, ok := s.docs[collection][id]
	if !ok {
		return nil
	}
	return &Document{ID: id, Data: copyData(data)}
}

func (s *MemoryStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.gets.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc := s.snapshotLocked(strings.TrimSpace(collection), strings.TrimSpace(id))
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (s *MemoryStore) QueryDocuments(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.queries.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll := s.docs[strings.TrimSpace(collection)]
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Document, 0, 4)
	for _, id := range ids {
		ok, err := Matches(coll[id], filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, Document{ID: id, Data: copyData(coll[id])})
		}
	}
	return out, nil
}

func (s *MemoryStore) SubscribeDocument(ctx context.Context, collection, id string, onSnapshot SnapshotFunc, onError ErrorFunc) (Unsubscribe, error) {
	if onSnapshot == nil {
		return nil, fmt.Errorf("onSnapshot is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	collection = strings.TrimSpace(collection)
	id = strings.TrimSpace(id)
	key := docKey(collection, id)
	sub := newSubscription(onSnapshot, onError)

	s.subscribes.Add(1)
	s.mu.Lock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[*subscription]struct{})
	}
	s.subs[key][sub] = struct{}{}
	sub.push(s.snapshotLocked(collection, id))
	s.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			if set, ok := s.subs[key]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(s.subs, key)
				}
			}
			s.mu.Unlock()
			sub.close()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-sub.done:
		}
	}()
	return unsubscribe, nil
}

// Subscribers reports how many live subscriptions watch the document.
func (s *MemoryStore) Subscribers(collection, id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[docKey(strings.TrimSpace(collection), strings.TrimSpace(id))])
}

func (s *MemoryStore) Stats() MemoryStats {
	return MemoryStats{
		Gets:       s.gets.Load(),
		Queries:    s.queries.Load(),
		Subscribes: s.subscribes.Load(),
	}
}

// LoadSeed reads {"collection": {"id": {...}}} JSON and puts every document.
func (s *MemoryStore) LoadSeed(r io.Reader) error {
	var seed map[string]map[string]map[string]any
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	for collection, docs := range seed {
		for id, data := range docs {
			s.Put(collection, id, data)
		}
	}
	return nil
}

func docKey(collection, id string) string {
	return collection + "/" + id
}
