package catalog

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"vtoframes/internal/remotestore"
	"vtoframes/internal/vto"
)

const (
	FieldBrandID = "brand_id"
	FieldSKU     = "sku"
	FieldStyleID = "style_id"
	FieldID      = "id"

	DefaultCollection = "colorway_size_assets"
	DefaultCacheSize  = 4096
	// DefaultQueryTimeout bounds one shared variant lookup.
	DefaultQueryTimeout = 30 * time.Second

	// Firestore caps "in" filters at 30 values.
	maxInValues = 30
)

type Config struct {
	BrandID    string
	Collection string
	// CacheSize bounds the variant cache; one product page touches a few dozen
	// variants, so the default behaves like a session-lifetime cache.
	CacheSize int
	// QueryTimeout bounds a shared lookup, which no single caller can cancel.
	QueryTimeout time.Duration
}

// Catalog resolves variant skus to catalog metadata for one brand and
// memoises the answers.
type Catalog struct {
	store      remotestore.Store
	brandID    string
	collection string

	cache        *lru.Cache[string, vto.Variant]
	flight       singleflight.Group
	queryTimeout time.Duration
}

func New(store remotestore.Store, cfg Config) (*Catalog, error) {
	if store == nil {
		return nil, fmt.Errorf("remote store is required")
	}
	brandID := strings.TrimSpace(cfg.BrandID)
	if brandID == "" {
		return nil, fmt.Errorf("brand id is required")
	}
	collection := strings.TrimSpace(cfg.Collection)
	if collection == "" {
		collection = DefaultCollection
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, vto.Variant](size)
	if err != nil {
		return nil, err
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Catalog{
		store:        store,
		brandID:      brandID,
		collection:   collection,
		cache:        cache,
		queryTimeout: timeout,
	}, nil
}

func (c *Catalog) BrandID() string { return c.brandID }

// Cached returns a memoised variant without touching the store.
func (c *Catalog) Cached(sku string) (vto.Variant, bool) {
	return c.cache.Get(strings.TrimSpace(sku))
}

// Resolve returns the single variant for (brand, sku). forceRefresh skips the
// cache and overwrites the entry with what the store returns.
func (c *Catalog) Resolve(ctx context.Context, sku string, forceRefresh bool) (vto.Variant, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return vto.Variant{}, fmt.Errorf("sku is required")
	}
	if !forceRefresh {
		if v, ok := c.cache.Get(sku); ok {
			return v, nil
		}
	}

	key := sku
	if forceRefresh {
		key = "refresh:" + sku
	}
	// The shared query outlives any single caller; each caller only stops
	// waiting when its own ctx ends.
	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		qctx, cancel := context.WithTimeout(detached, c.queryTimeout)
		defer cancel()
		docs, err := c.store.QueryDocuments(qctx, c.collection,
			remotestore.Eq(FieldBrandID, c.brandID),
			remotestore.Eq(FieldSKU, sku),
		)
		if err != nil {
			return vto.Variant{}, fmt.Errorf("query variant %s: %w", sku, err)
		}
		switch len(docs) {
		case 0:
			c.cache.Remove(sku)
			return vto.Variant{}, vto.NotFound(sku)
		case 1:
		default:
			c.cache.Remove(sku)
			return vto.Variant{}, vto.Ambiguous(sku, len(docs))
		}
		v, err := decodeVariant(docs[0], c.brandID)
		if err != nil {
			return vto.Variant{}, err
		}
		c.cache.Add(sku, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return vto.Variant{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return vto.Variant{}, res.Err
		}
		return res.Val.(vto.Variant), nil
	}
}

// ResolveBatch fetches only uncached skus and returns every requested sku it
// could resolve. Missing or ambiguous skus are logged, not returned as errors;
// only a failing store query is.
func (c *Catalog) ResolveBatch(ctx context.Context, skus []string) (map[string]vto.Variant, error) {
	out := make(map[string]vto.Variant, len(skus))
	var missing []string
	seen := make(map[string]struct{}, len(skus))
	for _, sku := range skus {
		sku = strings.TrimSpace(sku)
		if sku == "" {
			continue
		}
		if _, dup := seen[sku]; dup {
			continue
		}
		seen[sku] = struct{}{}
		if v, ok := c.cache.Get(sku); ok {
			out[sku] = v
			continue
		}
		missing = append(missing, sku)
	}

	for start := 0; start < len(missing); start += maxInValues {
		end := min(start+maxInValues, len(missing))
		chunk := missing[start:end]
		docs, err := c.store.QueryDocuments(ctx, c.collection,
			remotestore.Eq(FieldBrandID, c.brandID),
			remotestore.In(FieldSKU, chunk),
		)
		if err != nil {
			return out, fmt.Errorf("query variants: %w", err)
		}
		for sku, v := range c.mergeDocs(docs) {
			out[sku] = v
		}
	}

	for _, sku := range missing {
		if _, ok := out[sku]; !ok {
			log.Printf("catalog: variant %s not found for brand %s", sku, c.brandID)
		}
	}
	return out, nil
}

// RefreshStyle loads every variant of a style into the cache. It is a
// best-effort warm-up: failures are logged and swallowed.
func (c *Catalog) RefreshStyle(ctx context.Context, styleID string) {
	styleID = strings.TrimSpace(styleID)
	if styleID == "" {
		return
	}
	docs, err := c.store.QueryDocuments(ctx, c.collection,
		remotestore.Eq(FieldBrandID, c.brandID),
		remotestore.Eq(FieldStyleID, styleID),
	)
	if err != nil {
		log.Printf("catalog: refresh style %s failed: %v", styleID, err)
		return
	}
	merged := c.mergeDocs(docs)
	log.Printf("catalog: refreshed style %s (%d variants)", styleID, len(merged))
}

// mergeDocs caches every unambiguous variant in docs. A sku that appears more
// than once is a data-integrity problem and is dropped from the cache.
func (c *Catalog) mergeDocs(docs []remotestore.Document) map[string]vto.Variant {
	bySKU := make(map[string][]vto.Variant, len(docs))
	for _, doc := range docs {
		v, err := decodeVariant(doc, c.brandID)
		if err != nil {
			log.Printf("catalog: skip document %s: %v", doc.ID, err)
			continue
		}
		bySKU[v.SKU] = append(bySKU[v.SKU], v)
	}
	out := make(map[string]vto.Variant, len(bySKU))
	for sku, vs := range bySKU {
		if len(vs) > 1 {
			log.Printf("catalog: %v", vto.Ambiguous(sku, len(vs)))
			c.cache.Remove(sku)
			continue
		}
		c.cache.Add(sku, vs[0])
		out[sku] = vs[0]
	}
	return out
}

func decodeVariant(doc remotestore.Document, brandID string) (vto.Variant, error) {
	sku, _ := doc.Data[FieldSKU].(string)
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return vto.Variant{}, fmt.Errorf("document %s has no sku", doc.ID)
	}
	id, err := toInt64(doc.Data[FieldID])
	if err != nil {
		// Documents keyed by their numeric id may omit the field.
		id, err = strconv.ParseInt(strings.TrimSpace(doc.ID), 10, 64)
		if err != nil {
			return vto.Variant{}, fmt.Errorf("document %s has no numeric id", doc.ID)
		}
	}
	return vto.Variant{
		SKU:     sku,
		ID:      id,
		StyleID: stringify(doc.Data[FieldStyleID]),
		BrandID: firstNonEmpty(stringify(doc.Data[FieldBrandID]), brandID),
	}, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("id %v is not an integer", n)
		}
		return int64(n), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported id type %T", v)
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
