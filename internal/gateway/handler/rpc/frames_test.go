package rpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"vtoframes/internal/api/vtov1"
	"vtoframes/internal/auth"
	"vtoframes/internal/frames"
	"vtoframes/internal/gateway/middleware"
	"vtoframes/internal/gateway/session"
	"vtoframes/internal/vto"
)

type stubCatalog struct {
	mu        sync.Mutex
	refreshed []string
}

func (c *stubCatalog) Resolve(_ context.Context, sku string, _ bool) (vto.Variant, error) {
	switch sku {
	case "RED-M":
		return vto.Variant{SKU: sku, ID: 7, StyleID: "tee"}, nil
	case "BLU-M":
		return vto.Variant{SKU: sku, ID: 8, StyleID: "tee"}, nil
	case "DUP":
		return vto.Variant{}, vto.Ambiguous(sku, 2)
	}
	return vto.Variant{}, vto.NotFound(sku)
}

func (c *stubCatalog) RefreshStyle(_ context.Context, styleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshed = append(c.refreshed, styleID)
}

type stubRenderer struct{}

func (stubRenderer) RequestRender(context.Context, int64) error { return nil }

// stubWatcher answers with a single frame per known sku.
type stubWatcher struct{}

func (stubWatcher) Await(_ context.Context, sku string, _ bool) (vto.FrameSet, error) {
	switch sku {
	case "RED-M", "BLU-M":
		return vto.NewFrameSet(sku, []string{"https://cdn.test/" + sku + "/0.png"}, time.Now()), nil
	}
	return vto.FrameSet{}, vto.NoFrames(sku)
}

type gatewayHarness struct {
	srv      *httptest.Server
	client   *vtov1.FrameServiceClient
	catalog  *stubCatalog
	sessions *session.Manager
}

type harnessOptions struct {
	sessionTTL     time.Duration
	allowedOrigins []string
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	return newGatewayHarnessWith(t, harnessOptions{sessionTTL: time.Minute})
}

func newGatewayHarnessWith(t *testing.T, opts harnessOptions) *gatewayHarness {
	t.Helper()
	cat := &stubCatalog{}
	sessions, err := session.NewManager(session.Config{TTL: opts.sessionTTL}, func(user auth.Client, onWarm func(frames.WarmResult)) (*frames.Orchestrator, error) {
		return frames.New(frames.Deps{
			Auth:     user,
			Catalog:  cat,
			Renderer: stubRenderer{},
			Watcher:  stubWatcher{},
		}, frames.Config{OnWarm: onWarm})
	})
	require.NoError(t, err)
	t.Cleanup(sessions.Close)

	h := NewFrameHandler(sessions, opts.allowedOrigins)
	mux := http.NewServeMux()
	mux.Handle(vtov1.NewFrameServiceHandler(h))
	mux.HandleFunc("/v1/frames/ws", h.HandleFramesWS)
	srv := httptest.NewServer(middleware.Auth(auth.DevVerifier{}, mux))
	t.Cleanup(srv.Close)

	return &gatewayHarness{
		srv:      srv,
		client:   vtov1.NewFrameServiceClient(srv.Client(), srv.URL),
		catalog:  cat,
		sessions: sessions,
	}
}

func withToken[T any](msg *T, token string) *connect.Request[T] {
	req := connect.NewRequest(msg)
	if token != "" {
		req.Header().Set("Authorization", "Bearer "+token)
	}
	return req
}

func errorKind(t *testing.T, err error) string {
	t.Helper()
	var cerr *connect.Error
	require.True(t, errors.As(err, &cerr), "expected connect error, got %v", err)
	return cerr.Meta().Get(vtov1.ErrorKindHeader)
}

func TestGetFramesOverConnect(t *testing.T) {
	h := newGatewayHarness(t)
	ctx := context.Background()

	res, err := h.client.GetFrames(ctx, withToken(&vtov1.GetFramesRequest{SKU: "RED-M"}, "dev:u1"))
	require.NoError(t, err)
	require.Equal(t, "RED-M", res.Msg.Frames.VariantSKU)
	require.Equal(t, []string{"https://cdn.test/RED-M/0.png"}, res.Msg.Frames.URLs)

	v, err := h.client.ResolveVariant(ctx, withToken(&vtov1.ResolveVariantRequest{SKU: "RED-M"}, "dev:u1"))
	require.NoError(t, err)
	require.Equal(t, int64(7), v.Msg.Variant.ID)

	_, err = h.client.RefreshVariants(ctx, withToken(&vtov1.RefreshVariantsRequest{StyleID: "tee"}, "dev:u1"))
	require.NoError(t, err)
	h.catalog.mu.Lock()
	require.Equal(t, []string{"tee"}, h.catalog.refreshed)
	h.catalog.mu.Unlock()
}

func TestGetFramesErrorMapping(t *testing.T) {
	h := newGatewayHarness(t)
	ctx := context.Background()

	_, err := h.client.GetFrames(ctx, withToken(&vtov1.GetFramesRequest{SKU: "RED-M"}, ""))
	require.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	require.Equal(t, string(vto.KindUserNotLoggedIn), errorKind(t, err))

	_, err = h.client.GetFrames(ctx, withToken(&vtov1.GetFramesRequest{SKU: "RED-M"}, "garbage"))
	require.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	_, err = h.client.GetFrames(ctx, withToken(&vtov1.GetFramesRequest{SKU: "GONE"}, "dev:u1"))
	require.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
	require.Equal(t, string(vto.KindVariantNotFound), errorKind(t, err))

	_, err = h.client.GetFrames(ctx, withToken(&vtov1.GetFramesRequest{SKU: "DUP"}, "dev:u1"))
	require.Equal(t, connect.CodeInternal, connect.CodeOf(err))
	require.Equal(t, string(vto.KindAmbiguousVariant), errorKind(t, err))

	_, err = h.client.GetFrames(ctx, withToken(&vtov1.GetFramesRequest{SKU: "  "}, "dev:u1"))
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = h.client.GetFramesWithPriority(ctx, withToken(&vtov1.GetFramesWithPriorityRequest{}, "dev:u1"))
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestFrameErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want connect.Code
	}{
		{vto.NoFrames("A"), connect.CodeNotFound},
		{&vto.Error{Kind: vto.KindTimeout}, connect.CodeDeadlineExceeded},
		{&vto.Error{Kind: vto.KindRenderRequestFailed, Status: 400}, connect.CodeFailedPrecondition},
		{&vto.Error{Kind: vto.KindServiceUnavailable}, connect.CodeUnavailable},
		{context.Canceled, connect.CodeCanceled},
		{errors.New("sku is required"), connect.CodeInvalidArgument},
		{errors.New("boom"), connect.CodeInternal},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, frameErrorCode(tc.err), tc.err.Error())
	}
}

func TestFramesWebSocket(t *testing.T) {
	h := newGatewayHarness(t)
	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/v1/frames/ws?token=dev:u1"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first framesWSOutbound
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "subscribed", first.Type)

	require.NoError(t, conn.WriteJSON(framesWSInbound{Type: "ping", RequestID: "p"}))
	require.NoError(t, conn.WriteJSON(framesWSInbound{
		Type:          "get",
		RequestID:     "r1",
		SKU:           "RED-M",
		AvailableSKUs: []string{"RED-M", "BLU-M"},
	}))

	seen := map[string]framesWSOutbound{}
	for len(seen) < 3 {
		var out framesWSOutbound
		require.NoError(t, conn.ReadJSON(&out))
		seen[out.Type] = out
	}
	require.Equal(t, "p", seen["pong"].RequestID)
	require.Equal(t, "r1", seen["frames"].RequestID)
	require.Equal(t, "RED-M", seen["frames"].Frames.VariantSKU)
	require.Equal(t, "BLU-M", seen["warmed"].SKU)

	require.NoError(t, conn.WriteJSON(framesWSInbound{Type: "get", RequestID: "r2", SKU: "GONE"}))
	var out framesWSOutbound
	require.NoError(t, conn.ReadJSON(&out))
	require.Equal(t, "error", out.Type)
	require.Equal(t, "r2", out.RequestID)
	require.Equal(t, string(vto.KindVariantNotFound), out.Kind)
	require.Equal(t, "not_found", out.Code)
}

func TestFramesWebSocketRequiresPrincipal(t *testing.T) {
	h := newGatewayHarness(t)
	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/v1/frames/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func dialFramesWS(t *testing.T, h *gatewayHarness, header http.Header) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/v1/frames/ws?token=dev:u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first framesWSOutbound
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "subscribed", first.Type)
	return conn
}

func TestFramesWebSocketOutlivesSessionTTL(t *testing.T) {
	h := newGatewayHarnessWith(t, harnessOptions{sessionTTL: 30 * time.Millisecond})
	conn := dialFramesWS(t, h, nil)

	// Let the idle timeout pass; the cache drops the session meanwhile.
	require.Eventually(t, func() bool { return h.sessions.Len() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(framesWSInbound{Type: "get", RequestID: "late", SKU: "RED-M"}))
	var out framesWSOutbound
	require.NoError(t, conn.ReadJSON(&out))
	require.Equal(t, "frames", out.Type, "got %s: %s", out.Type, out.Message)
	require.Equal(t, "late", out.RequestID)
	require.Equal(t, "RED-M", out.Frames.VariantSKU)
}

func TestFramesWebSocketChecksOrigin(t *testing.T) {
	h := newGatewayHarnessWith(t, harnessOptions{
		sessionTTL:     time.Minute,
		allowedOrigins: []string{"https://shop.test"},
	})
	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/v1/frames/ws?token=dev:u1"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.test"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	dialFramesWS(t, h, http.Header{"Origin": {"https://shop.test"}})
	// No Origin header: not a browser.
	dialFramesWS(t, h, nil)
}

func TestWarmFloodKeepsReplies(t *testing.T) {
	q := newFramesWSQueue(1, 2)
	ctx := context.Background()

	require.True(t, q.reply(ctx, framesWSOutbound{Type: "frames", RequestID: "r1"}))
	for i := 0; i < 50; i++ {
		q.notify(framesWSOutbound{Type: "warmed", SKU: "BLU-M"})
	}
	require.Len(t, q.notices, 2)
	out := <-q.replies
	require.Equal(t, "r1", out.RequestID)

	// A full reply queue waits for room instead of dropping.
	require.True(t, q.reply(ctx, framesWSOutbound{Type: "frames", RequestID: "r2"}))
	done, cancel := context.WithCancel(ctx)
	cancel()
	require.False(t, q.reply(done, framesWSOutbound{Type: "frames", RequestID: "r3"}))
	require.Equal(t, "r2", (<-q.replies).RequestID)
}
