package vto

import (
	"strings"
	"time"
)

// Variant is one purchasable garment configuration (style + size + color).
type Variant struct {
	SKU     string `json:"sku"`
	ID      int64  `json:"id"`
	StyleID string `json:"styleId"`
	BrandID string `json:"brandId"`
}

// FrameSet is one rendered try-on sequence for a variant on the current
// user's avatar. It is never mutated after creation.
type FrameSet struct {
	VariantSKU string    `json:"variantSku"`
	URLs       []string  `json:"urls"`
	ObservedAt time.Time `json:"observedAt"`
}

func NewFrameSet(sku string, urls []string, at time.Time) FrameSet {
	return FrameSet{
		VariantSKU: sku,
		URLs:       append([]string(nil), urls...),
		ObservedAt: at,
	}
}

func (f FrameSet) First() string {
	if len(f.URLs) == 0 {
		return ""
	}
	return f.URLs[0]
}

func (f FrameSet) Empty() bool { return len(f.URLs) == 0 }

// Clone returns a copy whose URL slice does not alias f's.
func (f FrameSet) Clone() FrameSet {
	f.URLs = append([]string(nil), f.URLs...)
	return f
}

// FramesAt extracts profile.vto[brandID][sku].frames from a profile document.
// Non-string entries and blank URLs are skipped.
func FramesAt(profile map[string]any, brandID, sku string) []string {
	brands, ok := profile["vto"].(map[string]any)
	if !ok {
		return nil
	}
	variants, ok := brands[brandID].(map[string]any)
	if !ok {
		return nil
	}
	entry, ok := variants[sku].(map[string]any)
	if !ok {
		return nil
	}
	var out []string
	switch raw := entry["frames"].(type) {
	case []any:
		out = make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		out = make([]string, 0, len(raw))
		for _, s := range raw {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}
