package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("APP_ENV", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("VTO_STORE", "")
	t.Setenv("VTO_WATCH_TIMEOUT", "")
	t.Setenv("VTO_FRAME_CACHE_TTL", "")

	cfg := fromEnv(":8081")
	require.Equal(t, ":8081", cfg.Port)
	require.True(t, cfg.IsLocal())
	require.Equal(t, "memory", cfg.Store.Backend)
	require.Equal(t, 300*time.Second, cfg.WatchTimeout)
	require.Equal(t, time.Duration(0), cfg.FrameCache.TTL, "frames live for the session by default")
	require.Equal(t, "profiles", cfg.ProfileCollection)
	require.False(t, cfg.S3.UseSSL)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("VTO_STORE", "")
	t.Setenv("VTO_BRAND_ID", " brand-1 ")
	t.Setenv("VTO_WATCH_TIMEOUT", "1500")
	t.Setenv("VTO_FRAME_CACHE_TTL", "10m")
	t.Setenv("VTO_WARM_CONCURRENCY", "nope")
	t.Setenv("FRAMES_S3_ENDPOINT", "s3.example.com")
	t.Setenv("FRAMES_S3_ACCESS_KEY", "a")
	t.Setenv("FRAMES_S3_SECRET_KEY", "b")

	cfg := fromEnv(":8081")
	require.Equal(t, ":9000", cfg.Port)
	require.False(t, cfg.IsLocal())
	require.Equal(t, "postgres", cfg.Store.Backend)
	require.Equal(t, "brand-1", cfg.BrandID)
	require.Equal(t, 1500*time.Millisecond, cfg.WatchTimeout)
	require.Equal(t, 10*time.Minute, cfg.FrameCache.TTL)
	require.Equal(t, 4, cfg.WarmConcurrency, "invalid values fall back to the default")
	require.True(t, cfg.S3.Enabled())
	require.True(t, cfg.S3.UseSSL)
}
