package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"github.com/gorilla/websocket"

	"vtoframes/internal/api/vtov1"
	"vtoframes/internal/gateway/middleware"
	"vtoframes/internal/gateway/session"
	"vtoframes/internal/vto"
)

// FrameHandler serves FrameService on behalf of the verified caller's
// session.
type FrameHandler struct {
	sessions   *session.Manager
	wsUpgrader websocket.Upgrader
}

var _ vtov1.FrameServiceHandler = (*FrameHandler)(nil)

// NewFrameHandler serves sessions from the manager. Websocket upgrades are
// accepted from allowedOrigins only; an empty list accepts any origin.
func NewFrameHandler(sessions *session.Manager, allowedOrigins []string) *FrameHandler {
	return &FrameHandler{
		sessions:   sessions,
		wsUpgrader: newFramesWSUpgrader(allowedOrigins),
	}
}

// acquire pins the caller's session for the length of one request.
func (h *FrameHandler) acquire(ctx context.Context) (*session.Session, func(), error) {
	p, ok := middleware.PrincipalFrom(ctx)
	if !ok {
		return nil, nil, toFrameError(vto.NotLoggedIn())
	}
	s, release, err := h.sessions.Hold(p.User, p.Token)
	if err != nil {
		return nil, nil, connect.NewError(connect.CodeInternal, err)
	}
	return s, release, nil
}

func (h *FrameHandler) GetFrames(ctx context.Context, req *connect.Request[vtov1.GetFramesRequest]) (*connect.Response[vtov1.FramesResponse], error) {
	s, release, err := h.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	sku := strings.TrimSpace(req.Msg.SKU)
	if sku == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("sku is required"))
	}
	fs, err := s.Frames.GetFrames(ctx, sku, req.Msg.SkipCache)
	if err != nil {
		return nil, toFrameError(err)
	}
	return connect.NewResponse(&vtov1.FramesResponse{Frames: fs}), nil
}

func (h *FrameHandler) GetFramesWithPriority(ctx context.Context, req *connect.Request[vtov1.GetFramesWithPriorityRequest]) (*connect.Response[vtov1.FramesResponse], error) {
	s, release, err := h.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	active := strings.TrimSpace(req.Msg.ActiveSKU)
	if active == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("activeSku is required"))
	}
	fs, err := s.Frames.GetFramesWithPriority(ctx, active, req.Msg.AvailableSKUs, req.Msg.SkipCache)
	if err != nil {
		return nil, toFrameError(err)
	}
	return connect.NewResponse(&vtov1.FramesResponse{Frames: fs}), nil
}

func (h *FrameHandler) ResolveVariant(ctx context.Context, req *connect.Request[vtov1.ResolveVariantRequest]) (*connect.Response[vtov1.ResolveVariantResponse], error) {
	s, release, err := h.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	sku := strings.TrimSpace(req.Msg.SKU)
	if sku == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("sku is required"))
	}
	v, err := s.Frames.ResolveVariant(ctx, sku)
	if err != nil {
		return nil, toFrameError(err)
	}
	return connect.NewResponse(&vtov1.ResolveVariantResponse{Variant: v}), nil
}

func (h *FrameHandler) RefreshVariants(ctx context.Context, req *connect.Request[vtov1.RefreshVariantsRequest]) (*connect.Response[vtov1.RefreshVariantsResponse], error) {
	s, release, err := h.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	styleID := strings.TrimSpace(req.Msg.StyleID)
	if styleID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("styleId is required"))
	}
	if err := s.Frames.RefreshVariants(ctx, styleID); err != nil {
		return nil, toFrameError(err)
	}
	return connect.NewResponse(&vtov1.RefreshVariantsResponse{}), nil
}

func frameErrorCode(err error) connect.Code {
	switch vto.KindOf(err) {
	case vto.KindVariantNotFound, vto.KindNoFramesFound:
		return connect.CodeNotFound
	case vto.KindAmbiguousVariant:
		return connect.CodeInternal
	case vto.KindTimeout:
		return connect.CodeDeadlineExceeded
	case vto.KindRenderRequestFailed:
		return connect.CodeFailedPrecondition
	case vto.KindServiceUnavailable:
		return connect.CodeUnavailable
	case vto.KindUserNotLoggedIn:
		return connect.CodeUnauthenticated
	}
	switch {
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case strings.Contains(strings.ToLower(err.Error()), "required"):
		return connect.CodeInvalidArgument
	default:
		return connect.CodeInternal
	}
}

func toFrameError(err error) error {
	cerr := connect.NewError(frameErrorCode(err), err)
	if kind := vto.KindOf(err); kind != "" {
		cerr.Meta().Set(vtov1.ErrorKindHeader, string(kind))
	}
	return cerr
}
