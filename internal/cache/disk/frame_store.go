package disk

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"vtoframes/internal/vto"
)

const indexFile = "index.json"

type Config struct {
	Dir        string
	MaxEntries int
	// TTL <= 0 keeps entries until they are evicted by MaxEntries.
	TTL time.Duration
}

type indexEntry struct {
	File       string    `json:"file"`
	SavedAt    time.Time `json:"saved_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

type index struct {
	Entries map[string]indexEntry `json:"entries"`
}

// FrameStore persists frame sets between process restarts. The URLs it
// returns may have gone stale; callers re-validate them before use.
type FrameStore struct {
	mu sync.Mutex

	dataDir   string
	indexPath string

	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	entries map[string]indexEntry
}

func NewFrameStore(cfg Config) (*FrameStore, error) {
	root := strings.TrimSpace(cfg.Dir)
	if root == "" {
		return nil, fmt.Errorf("frame cache dir is required")
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	s := &FrameStore{
		dataDir:    filepath.Join(root, "frames"),
		indexPath:  filepath.Join(root, indexFile),
		maxEntries: maxEntries,
		ttl:        cfg.TTL,
		now:        time.Now,
		entries:    map[string]indexEntry{},
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadIndexLocked(); err != nil {
		return nil, err
	}
	s.collectLocked()
	if err := s.persistIndexLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load returns the frame set saved under key, if any and not expired.
func (s *FrameStore) Load(key string) (vto.FrameSet, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return vto.FrameSet{}, false, fmt.Errorf("key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return vto.FrameSet{}, false, nil
	}
	now := s.now()
	if s.expired(ent, now) {
		s.removeLocked(key, ent)
		return vto.FrameSet{}, false, s.persistIndexLocked()
	}
	raw, err := os.ReadFile(filepath.Join(s.dataDir, ent.File))
	if err != nil {
		if os.IsNotExist(err) {
			s.removeLocked(key, ent)
			return vto.FrameSet{}, false, s.persistIndexLocked()
		}
		return vto.FrameSet{}, false, err
	}
	var fs vto.FrameSet
	if err := json.Unmarshal(raw, &fs); err != nil || fs.Empty() {
		s.removeLocked(key, ent)
		_ = s.persistIndexLocked()
		return vto.FrameSet{}, false, nil
	}
	ent.AccessedAt = now
	s.entries[key] = ent
	if err := s.persistIndexLocked(); err != nil {
		return vto.FrameSet{}, false, err
	}
	return fs, true, nil
}

// Save replaces whatever was stored under key.
func (s *FrameStore) Save(key string, fs vto.FrameSet) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if fs.Empty() {
		return fmt.Errorf("frame set for %s is empty", key)
	}
	raw, err := json.Marshal(fs)
	if err != nil {
		return fmt.Errorf("encode frame set: %w", err)
	}
	file := hashedName(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(filepath.Join(s.dataDir, file), raw); err != nil {
		return err
	}
	now := s.now()
	s.entries[key] = indexEntry{File: file, SavedAt: now, AccessedAt: now}
	s.collectLocked()
	return s.persistIndexLocked()
}

func (s *FrameStore) Delete(key string) error {
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entries[key]
	if !ok {
		return nil
	}
	s.removeLocked(key, ent)
	return s.persistIndexLocked()
}

func (s *FrameStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *FrameStore) expired(ent indexEntry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(ent.SavedAt) >= s.ttl
}

func (s *FrameStore) loadIndexLocked() error {
	raw, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var idx index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return fmt.Errorf("decode frame cache index: %w", err)
	}
	if idx.Entries != nil {
		s.entries = idx.Entries
	}
	return nil
}

// collectLocked drops expired and orphaned entries, then trims to maxEntries
// by least recent access.
func (s *FrameStore) collectLocked() {
	now := s.now()
	for key, ent := range s.entries {
		if s.expired(ent, now) {
			s.removeLocked(key, ent)
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dataDir, ent.File)); os.IsNotExist(err) {
			delete(s.entries, key)
		}
	}
	if len(s.entries) <= s.maxEntries {
		return
	}
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := s.entries[keys[i]].AccessedAt, s.entries[keys[j]].AccessedAt
		if li.Equal(lj) {
			return keys[i] < keys[j]
		}
		return li.Before(lj)
	})
	for _, key := range keys[:len(keys)-s.maxEntries] {
		s.removeLocked(key, s.entries[key])
	}
}

func (s *FrameStore) removeLocked(key string, ent indexEntry) {
	delete(s.entries, key)
	_ = os.Remove(filepath.Join(s.dataDir, ent.File))
}

func (s *FrameStore) persistIndexLocked() error {
	raw, err := json.MarshalIndent(index{Entries: s.entries}, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.indexPath, raw)
}

func writeFileAtomic(path string, raw []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func hashedName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + ".json"
}
