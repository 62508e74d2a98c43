package server

import (
	"net/http"

	"vtoframes/internal/api/vtov1"
	"vtoframes/internal/auth"
	"vtoframes/internal/gateway/handler/rpc"
	"vtoframes/internal/gateway/middleware"
)

func NewMux(
	frameHandler *rpc.FrameHandler,
	verifier auth.Verifier,
	allowedOrigins []string,
) http.Handler {
	mux := http.NewServeMux()

	// RPC Handlers
	mux.Handle(vtov1.NewFrameServiceHandler(frameHandler))

	// Streaming
	mux.HandleFunc("/v1/frames/ws", frameHandler.HandleFramesWS)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Middleware
	return middleware.CORS(allowedOrigins, middleware.Auth(verifier, mux))
}
