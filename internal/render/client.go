package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"vtoframes/internal/auth"
	"vtoframes/internal/vto"
)

const maxErrorBody = 512

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Client talks to the remote render-job service on behalf of the signed-in
// user. It starts jobs; it never returns frames.
type Client struct {
	baseURL string
	http    *http.Client
	auth    auth.Client
}

func New(cfg Config, authClient auth.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("render base url is required")
	}
	if authClient == nil {
		return nil, fmt.Errorf("auth client is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: base, http: hc, auth: authClient}, nil
}

// RequestRender asks the service to render frames for a variant id.
func (c *Client) RequestRender(ctx context.Context, variantID int64) error {
	if _, ok := c.auth.CurrentUser(); !ok {
		return vto.NotLoggedIn()
	}
	path := fmt.Sprintf("/v1/colorway-size-assets/%d/frames", variantID)
	resp, err := c.Do(ctx, http.MethodPost, path, nil)
	if err != nil {
		if vto.KindOf(err) == vto.KindUserNotLoggedIn || errors.Is(err, context.Canceled) {
			return err
		}
		return &vto.Error{Kind: vto.KindServiceUnavailable, VariantID: variantID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		log.Printf("render: job accepted for variant %d", variantID)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(body))
	var cause error
	if detail != "" {
		cause = errors.New(detail)
	}
	kind := vto.KindRenderRequestFailed
	if resp.StatusCode >= 500 {
		kind = vto.KindServiceUnavailable
	}
	return &vto.Error{Kind: kind, VariantID: variantID, Status: resp.StatusCode, Err: cause}
}

// Do sends an authenticated request to the render service. body, when not
// nil, is sent as JSON. The caller closes the response body.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := c.auth.IDToken(ctx)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}
