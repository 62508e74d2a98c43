package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	Env            string
	AllowedOrigins []string

	BrandID           string
	RenderBaseURL     string
	ProfileCollection string
	VariantCollection string
	WatchTimeout      time.Duration
	VariantCacheSize  int
	WarmConcurrency   int

	FrameCache FrameCacheConfig
	Session    SessionConfig
	Store      StoreConfig
	S3         S3Config
	Firebase   FirebaseConfig
}

// FrameCacheConfig is the per-session frame cache policy. TTL 0 keeps
// entries for the whole session. Dir enables the persisted cache.
type FrameCacheConfig struct {
	MaxEntries int
	TTL        time.Duration
	Dir        string
}

type SessionConfig struct {
	TTL        time.Duration
	MaxEntries int
}

type StoreConfig struct {
	// Backend is one of "memory", "postgres", "firestore".
	Backend          string
	PostgresDSN      string
	FirestoreProject string
	CredentialsFile  string
	SeedFile         string
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func (c S3Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != "" &&
		strings.TrimSpace(c.AccessKey) != "" &&
		strings.TrimSpace(c.SecretKey) != ""
}

type FirebaseConfig struct {
	ProjectID string
	APIKey    string
}

func (c *Config) IsLocal() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "local")
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8081", "server port")
	flag.Parse()

	return fromEnv(*port), nil
}

// LoadEnv reads configuration from the environment and .env without
// touching command-line flags.
func LoadEnv() *Config {
	_ = godotenv.Load()
	return fromEnv(":8081")
}

func fromEnv(port string) *Config {
	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			port = envPort
		} else {
			port = ":" + envPort
		}
	}

	env := firstNonEmpty(strings.TrimSpace(os.Getenv("APP_ENV")), "local")
	backend := strings.ToLower(firstNonEmpty(strings.TrimSpace(os.Getenv("VTO_STORE")), defaultBackend()))

	return &Config{
		Port:              port,
		Env:               env,
		AllowedOrigins:    splitList(os.Getenv("VTO_ALLOWED_ORIGINS")),
		BrandID:           strings.TrimSpace(os.Getenv("VTO_BRAND_ID")),
		RenderBaseURL:     firstNonEmpty(strings.TrimSpace(os.Getenv("VTO_RENDER_BASE_URL")), "http://localhost:8090"),
		ProfileCollection: firstNonEmpty(strings.TrimSpace(os.Getenv("VTO_PROFILE_COLLECTION")), "profiles"),
		VariantCollection: firstNonEmpty(strings.TrimSpace(os.Getenv("VTO_VARIANT_COLLECTION")), "colorway_size_assets"),
		WatchTimeout:      envDuration("VTO_WATCH_TIMEOUT", 300*time.Second),
		VariantCacheSize:  envInt("VTO_VARIANT_CACHE_SIZE", 4096),
		WarmConcurrency:   envInt("VTO_WARM_CONCURRENCY", 4),
		FrameCache: FrameCacheConfig{
			MaxEntries: envInt("VTO_FRAME_CACHE_MAX_ENTRIES", 0),
			TTL:        envDuration("VTO_FRAME_CACHE_TTL", 0),
			Dir:        strings.TrimSpace(os.Getenv("VTO_FRAME_CACHE_DIR")),
		},
		Session: SessionConfig{
			TTL:        envDuration("VTO_SESSION_TTL", 30*time.Minute),
			MaxEntries: envInt("VTO_SESSION_MAX", 10000),
		},
		Store: StoreConfig{
			Backend:          backend,
			PostgresDSN:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
			FirestoreProject: firstNonEmpty(strings.TrimSpace(os.Getenv("FIRESTORE_PROJECT_ID")), strings.TrimSpace(os.Getenv("FIREBASE_PROJECT_ID"))),
			CredentialsFile:  strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
			SeedFile:         strings.TrimSpace(os.Getenv("VTO_SEED_FILE")),
		},
		S3: S3Config{
			Endpoint:  strings.TrimSpace(os.Getenv("FRAMES_S3_ENDPOINT")),
			Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("FRAMES_S3_REGION")), "us-east-1"),
			AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("FRAMES_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
			SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("FRAMES_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
			UseSSL:    envBool("FRAMES_S3_USE_SSL", !strings.EqualFold(env, "local")),
		},
		Firebase: FirebaseConfig{
			ProjectID: strings.TrimSpace(os.Getenv("FIREBASE_PROJECT_ID")),
			APIKey:    strings.TrimSpace(os.Getenv("FIREBASE_API_KEY")),
		},
	}
}

func defaultBackend() string {
	if strings.TrimSpace(os.Getenv("DATABASE_URL")) != "" {
		return "postgres"
	}
	return "memory"
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// envDuration accepts Go durations ("90s") or plain milliseconds.
func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
