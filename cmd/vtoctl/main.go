// Command vtoctl fetches try-on frames from the command line, either through a
// running gateway or by driving the core in-process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"connectrpc.com/connect"

	"vtoframes/internal/api/vtov1"
	"vtoframes/internal/auth"
	"vtoframes/internal/frames"
	"vtoframes/internal/gateway/app"
	"vtoframes/internal/gateway/config"
)

func main() {
	gateway := flag.String("gateway", "", "gateway base url; empty runs the core in-process")
	email := flag.String("email", "", "shopper email for Firebase sign-in")
	token := flag.String("token", "", "ID token to use instead of signing in")
	uid := flag.String("uid", "", "user id for -token in in-process mode")
	sku := flag.String("sku", "", "variant sku")
	available := flag.String("available", "", "comma-separated skus to warm next to -sku")
	style := flag.String("style", "", "style id for refresh")
	oobCode := flag.String("code", "", "out-of-band code for confirm-reset")
	skipCache := flag.Bool("skip-cache", false, "force a fresh render")
	timeout := flag.Duration("timeout", 6*time.Minute, "overall deadline")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: vtoctl [flags] frames|resolve|refresh|reset-password|confirm-reset\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	cmd := flag.Arg(0)

	cfg := config.LoadEnv()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd {
	case "reset-password", "confirm-reset":
		if err := resetPassword(ctx, cfg, cmd, *email, *oobCode); err != nil {
			log.Fatal(err)
		}
		return
	}

	user, err := signIn(ctx, cfg, *email, *token, *uid)
	if err != nil {
		log.Fatal(err)
	}

	var out any
	if strings.TrimSpace(*gateway) != "" {
		out, err = runRemote(ctx, *gateway, user, cmd, *sku, *style, splitSKUs(*available), *skipCache)
	} else {
		out, err = runLocal(ctx, cfg, user, cmd, *sku, *style, splitSKUs(*available), *skipCache)
	}
	if err != nil {
		log.Fatal(err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal(err)
	}
}

// resetPassword mails a reset link, or completes a reset with the code from
// that mail and the VTO_PASSWORD environment variable.
func resetPassword(ctx context.Context, cfg *config.Config, cmd, email, code string) error {
	fb, err := auth.NewFirebase(auth.FirebaseConfig{APIKey: cfg.Firebase.APIKey})
	if err != nil {
		return err
	}
	if cmd == "confirm-reset" {
		if err := fb.ConfirmPasswordReset(ctx, code, os.Getenv("VTO_PASSWORD")); err != nil {
			return err
		}
		log.Printf("password updated")
		return nil
	}
	if err := fb.SendPasswordReset(ctx, email); err != nil {
		return err
	}
	log.Printf("password reset mail sent to %s", email)
	return nil
}

// signIn returns a client for an explicit token, or signs in with email and
// the VTO_PASSWORD environment variable.
func signIn(ctx context.Context, cfg *config.Config, email, token, uid string) (auth.Client, error) {
	if strings.TrimSpace(token) != "" {
		u := strings.TrimSpace(uid)
		if u == "" {
			u, _ = strings.CutPrefix(strings.TrimSpace(token), "dev:")
		}
		return auth.NewStatic(auth.User{UID: u}, token), nil
	}
	if strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("-email or -token is required")
	}
	fb, err := auth.NewFirebase(auth.FirebaseConfig{APIKey: cfg.Firebase.APIKey})
	if err != nil {
		return nil, err
	}
	if _, err := fb.SignIn(ctx, email, os.Getenv("VTO_PASSWORD")); err != nil {
		return nil, err
	}
	return fb, nil
}

func runLocal(ctx context.Context, cfg *config.Config, user auth.Client, cmd, sku, style string, available []string, skipCache bool) (any, error) {
	core, err := app.NewCore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer core.Close()
	orch, err := core.NewOrchestrator(user, func(r frames.WarmResult) {
		if r.Err != nil {
			log.Printf("warm %s failed: %v", r.SKU, r.Err)
			return
		}
		log.Printf("warmed %s (%d frames)", r.SKU, len(r.Frames.URLs))
	})
	if err != nil {
		return nil, err
	}
	defer orch.Close()

	switch cmd {
	case "frames":
		if len(available) > 0 {
			return orch.GetFramesWithPriority(ctx, sku, available, skipCache)
		}
		return orch.GetFrames(ctx, sku, skipCache)
	case "resolve":
		return orch.ResolveVariant(ctx, sku)
	case "refresh":
		return map[string]string{"refreshed": style}, orch.RefreshVariants(ctx, style)
	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

func runRemote(ctx context.Context, baseURL string, user auth.Client, cmd, sku, style string, available []string, skipCache bool) (any, error) {
	idToken, err := user.IDToken(ctx)
	if err != nil {
		return nil, err
	}
	client := vtov1.NewFrameServiceClient(http.DefaultClient, baseURL)
	bearer := func(h http.Header) { h.Set("Authorization", "Bearer "+idToken) }

	switch cmd {
	case "frames":
		req := connect.NewRequest(&vtov1.GetFramesWithPriorityRequest{ActiveSKU: sku, AvailableSKUs: available, SkipCache: skipCache})
		bearer(req.Header())
		res, err := client.GetFramesWithPriority(ctx, req)
		if err != nil {
			return nil, err
		}
		return res.Msg.Frames, nil
	case "resolve":
		req := connect.NewRequest(&vtov1.ResolveVariantRequest{SKU: sku})
		bearer(req.Header())
		res, err := client.ResolveVariant(ctx, req)
		if err != nil {
			return nil, err
		}
		return res.Msg.Variant, nil
	case "refresh":
		req := connect.NewRequest(&vtov1.RefreshVariantsRequest{StyleID: style})
		bearer(req.Header())
		if _, err := client.RefreshVariants(ctx, req); err != nil {
			return nil, err
		}
		return map[string]string{"refreshed": style}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

func splitSKUs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
