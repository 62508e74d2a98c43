// Package vtov1 defines the FrameService wire contract shared by the gateway
// and its clients.
package vtov1

import "vtoframes/internal/vto"

const (
	FrameServiceName = "vto.v1.FrameService"

	FrameServiceGetFramesProcedure             = "/" + FrameServiceName + "/GetFrames"
	FrameServiceGetFramesWithPriorityProcedure = "/" + FrameServiceName + "/GetFramesWithPriority"
	FrameServiceResolveVariantProcedure        = "/" + FrameServiceName + "/ResolveVariant"
	FrameServiceRefreshVariantsProcedure       = "/" + FrameServiceName + "/RefreshVariants"

	// ErrorKindHeader carries the core error kind on failed calls.
	ErrorKindHeader = "Vto-Error-Kind"
)

type GetFramesRequest struct {
	SKU       string `json:"sku"`
	SkipCache bool   `json:"skipCache,omitempty"`
}

type GetFramesWithPriorityRequest struct {
	ActiveSKU     string   `json:"activeSku"`
	AvailableSKUs []string `json:"availableSkus,omitempty"`
	SkipCache     bool     `json:"skipCache,omitempty"`
}

type FramesResponse struct {
	Frames vto.FrameSet `json:"frames"`
}

type ResolveVariantRequest struct {
	SKU string `json:"sku"`
}

type ResolveVariantResponse struct {
	Variant vto.Variant `json:"variant"`
}

type RefreshVariantsRequest struct {
	StyleID string `json:"styleId"`
}

type RefreshVariantsResponse struct{}
