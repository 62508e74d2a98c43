package vtov1

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// FrameServiceHandler is implemented by the gateway.
type FrameServiceHandler interface {
	GetFrames(context.Context, *connect.Request[GetFramesRequest]) (*connect.Response[FramesResponse], error)
	GetFramesWithPriority(context.Context, *connect.Request[GetFramesWithPriorityRequest]) (*connect.Response[FramesResponse], error)
	ResolveVariant(context.Context, *connect.Request[ResolveVariantRequest]) (*connect.Response[ResolveVariantResponse], error)
	RefreshVariants(context.Context, *connect.Request[RefreshVariantsRequest]) (*connect.Response[RefreshVariantsResponse], error)
}

// NewFrameServiceHandler returns the mount path and handler for svc.
func NewFrameServiceHandler(svc FrameServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)
	getFrames := connect.NewUnaryHandler(FrameServiceGetFramesProcedure, svc.GetFrames, opts...)
	getFramesWithPriority := connect.NewUnaryHandler(FrameServiceGetFramesWithPriorityProcedure, svc.GetFramesWithPriority, opts...)
	resolveVariant := connect.NewUnaryHandler(FrameServiceResolveVariantProcedure, svc.ResolveVariant, opts...)
	refreshVariants := connect.NewUnaryHandler(FrameServiceRefreshVariantsProcedure, svc.RefreshVariants, opts...)
	return "/" + FrameServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case FrameServiceGetFramesProcedure:
			getFrames.ServeHTTP(w, r)
		case FrameServiceGetFramesWithPriorityProcedure:
			getFramesWithPriority.ServeHTTP(w, r)
		case FrameServiceResolveVariantProcedure:
			resolveVariant.ServeHTTP(w, r)
		case FrameServiceRefreshVariantsProcedure:
			refreshVariants.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// FrameServiceClient calls a FrameService over the Connect protocol.
type FrameServiceClient struct {
	getFrames             *connect.Client[GetFramesRequest, FramesResponse]
	getFramesWithPriority *connect.Client[GetFramesWithPriorityRequest, FramesResponse]
	resolveVariant        *connect.Client[ResolveVariantRequest, ResolveVariantResponse]
	refreshVariants       *connect.Client[RefreshVariantsRequest, RefreshVariantsResponse]
}

func NewFrameServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *FrameServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return &FrameServiceClient{
		getFrames:             connect.NewClient[GetFramesRequest, FramesResponse](httpClient, baseURL+FrameServiceGetFramesProcedure, opts...),
		getFramesWithPriority: connect.NewClient[GetFramesWithPriorityRequest, FramesResponse](httpClient, baseURL+FrameServiceGetFramesWithPriorityProcedure, opts...),
		resolveVariant:        connect.NewClient[ResolveVariantRequest, ResolveVariantResponse](httpClient, baseURL+FrameServiceResolveVariantProcedure, opts...),
		refreshVariants:       connect.NewClient[RefreshVariantsRequest, RefreshVariantsResponse](httpClient, baseURL+FrameServiceRefreshVariantsProcedure, opts...),
	}
}

func (c *FrameServiceClient) GetFrames(ctx context.Context, req *connect.Request[GetFramesRequest]) (*connect.Response[FramesResponse], error) {
	return c.getFrames.CallUnary(ctx, req)
}

func (c *FrameServiceClient) GetFramesWithPriority(ctx context.Context, req *connect.Request[GetFramesWithPriorityRequest]) (*connect.Response[FramesResponse], error) {
	return c.getFramesWithPriority.CallUnary(ctx, req)
}

func (c *FrameServiceClient) ResolveVariant(ctx context.Context, req *connect.Request[ResolveVariantRequest]) (*connect.Response[ResolveVariantResponse], error) {
	return c.resolveVariant.CallUnary(ctx, req)
}

func (c *FrameServiceClient) RefreshVariants(ctx context.Context, req *connect.Request[RefreshVariantsRequest]) (*connect.Response[RefreshVariantsResponse], error) {
	return c.refreshVariants.CallUnary(ctx, req)
}
