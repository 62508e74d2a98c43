package probe

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"vtoframes/internal/tester"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	tester.NoErr(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHTTPProbe(t *testing.T) {
	frame := pngBytes(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(frame)
	})
	mux.HandleFunc("/missing.png", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/text.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not yet</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewHTTP(srv.Client())
	ctx := context.Background()
	tester.True(t, p.Test(ctx, srv.URL+"/ok.png"), "png frame should load")
	tester.False(t, p.Test(ctx, srv.URL+"/missing.png"), "404 must fail")
	tester.False(t, p.Test(ctx, srv.URL+"/text.png"), "non-image body must fail")
	tester.False(t, p.Test(ctx, "http://127.0.0.1:1/none.png"), "unreachable host must fail")
}

func TestRouterDispatchesByScheme(t *testing.T) {
	var seen []string
	record := func(name string, ok bool) Prober {
		return Func(func(_ context.Context, u string) bool {
			seen = append(seen, name+":"+u)
			return ok
		})
	}
	r := NewRouter(record("web", true)).Handle("S3", record("s3", false))

	ctx := context.Background()
	tester.True(t, r.Test(ctx, "https://cdn/x.png"))
	tester.False(t, r.Test(ctx, "s3://frames/x.png"))
	tester.False(t, r.Test(ctx, "://bad"))
	tester.Eq(t, seen, []string{"web:https://cdn/x.png", "s3:s3://frames/x.png"})

	tester.False(t, NewRouter(nil).Test(ctx, "https://cdn/x.png"), "no fallback means no probe")
}

func TestSplitObjectURL(t *testing.T) {
	bucket, key, err := splitObjectURL("s3://frames/u1/RED-M/0.webp")
	tester.NoErr(t, err)
	tester.Eq(t, bucket, "frames")
	tester.Eq(t, key, "u1/RED-M/0.webp")

	_, _, err = splitObjectURL("https://frames/x.png")
	tester.True(t, err != nil, "scheme must be s3")
	_, _, err = splitObjectURL("s3://frames/")
	tester.True(t, err != nil, "key is required")
}
