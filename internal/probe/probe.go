package probe

import (
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/url"
	"strings"

	_ "golang.org/x/image/webp"
)

// Prober reports whether a frame URL currently loads as an image. One attempt
// per call; callers decide what a false answer means.
type Prober interface {
	Test(ctx context.Context, rawURL string) bool
}

// Func adapts a plain function to Prober.
type Func func(ctx context.Context, rawURL string) bool

func (f Func) Test(ctx context.Context, rawURL string) bool { return f(ctx, rawURL) }

// Router sends each URL to the prober registered for its scheme.
type Router struct {
	schemes  map[string]Prober
	fallback Prober
}

func NewRouter(fallback Prober) *Router {
	return &Router{schemes: map[string]Prober{}, fallback: fallback}
}

// Handle registers p for scheme (case-insensitive).
func (r *Router) Handle(scheme string, p Prober) *Router {
	r.schemes[strings.ToLower(strings.TrimSpace(scheme))] = p
	return r
}

func (r *Router) Test(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		log.Printf("probe: invalid url %q: %v", rawURL, err)
		return false
	}
	if p, ok := r.schemes[strings.ToLower(u.Scheme)]; ok && p != nil {
		return p.Test(ctx, rawURL)
	}
	if r.fallback == nil {
		return false
	}
	return r.fallback.Test(ctx, rawURL)
}

// decodes reports whether the stream starts with a known image header.
func decodes(r io.Reader) (string, bool) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return "", false
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return format, false
	}
	return format, true
}
