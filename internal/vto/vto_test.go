package vto_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"vtoframes/internal/tester"
	"vtoframes/internal/vto"
)

func TestErrorKindMatching(t *testing.T) {
	err := fmt.Errorf("fetch: %w", vto.NotFound("RED-M"))
	tester.True(t, errors.Is(err, vto.ErrVariantNotFound))
	tester.False(t, errors.Is(err, vto.ErrTimeout))
	tester.Eq(t, vto.KindOf(err), vto.KindVariantNotFound)
	tester.Eq(t, vto.KindOf(errors.New("plain")), vto.Kind(""))

	tester.Eq(t, vto.Ambiguous("RED-M", 2).Error(), "ambiguous_variant sku=RED-M matches=2")
	wrapped := &vto.Error{Kind: vto.KindRenderRequestFailed, VariantID: 7, Status: 400, Err: errors.New("bad")}
	tester.Eq(t, wrapped.Error(), "render_request_failed variant_id=7 status=400: bad")
}

func TestRetryable(t *testing.T) {
	tester.True(t, vto.Retryable(&vto.Error{Kind: vto.KindTimeout}))
	tester.True(t, vto.Retryable(&vto.Error{Kind: vto.KindServiceUnavailable}))
	tester.True(t, vto.Retryable(vto.NoFrames("A")))
	tester.False(t, vto.Retryable(vto.Ambiguous("A", 3)))
	tester.False(t, vto.Retryable(&vto.Error{Kind: vto.KindRenderRequestFailed}))
	tester.False(t, vto.Retryable(errors.New("x")))
}

func TestFramesAt(t *testing.T) {
	profile := map[string]any{
		"vto": map[string]any{
			"b1": map[string]any{
				"RED-M": map[string]any{"frames": []any{" https://a/0.png ", "", 3, "https://a/1.png"}},
				"BLU-M": map[string]any{"frames": []string{"https://b/0.png"}},
				"GRN-M": map[string]any{},
			},
		},
	}
	tester.Eq(t, vto.FramesAt(profile, "b1", "RED-M"), []string{"https://a/0.png", "https://a/1.png"})
	tester.Eq(t, vto.FramesAt(profile, "b1", "BLU-M"), []string{"https://b/0.png"})
	tester.Eq(t, len(vto.FramesAt(profile, "b1", "GRN-M")), 0)
	tester.Eq(t, len(vto.FramesAt(profile, "b2", "RED-M")), 0)
	tester.Eq(t, len(vto.FramesAt(map[string]any{}, "b1", "RED-M")), 0)
}

func TestFrameSetCopiesURLs(t *testing.T) {
	urls := []string{"u0", "u1"}
	fs := vto.NewFrameSet("A", urls, time.Unix(0, 0))
	urls[0] = "mutated"
	tester.Eq(t, fs.First(), "u0")

	c := fs.Clone()
	c.URLs[0] = "x"
	tester.Eq(t, fs.First(), "u0")
	tester.True(t, vto.FrameSet{}.Empty())
	tester.Eq(t, vto.FrameSet{}.First(), "")
}
