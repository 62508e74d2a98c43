package probe

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"
)

// headerLimit bounds how much of a frame is read; image headers fit well
// inside it.
const headerLimit = 64 << 10

type HTTP struct {
	client *http.Client
}

func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTP{client: client}
}

func (p *HTTP) Test(ctx context.Context, rawURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		log.Printf("probe: build request %q: %v", rawURL, err)
		return false
	}
	req.Header.Set("Accept", "image/*")
	resp, err := p.client.Do(req)
	if err != nil {
		log.Printf("probe: GET %s: %v", rawURL, err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("probe: GET %s: status %d", rawURL, resp.StatusCode)
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, headerLimit))
		return false
	}
	format, ok := decodes(io.LimitReader(resp.Body, headerLimit))
	if !ok {
		log.Printf("probe: %s is not a decodable image (format=%q)", rawURL, format)
	}
	return ok
}
