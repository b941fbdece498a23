package config

import (
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
    Level      string
    Pretty     bool
    File       string
    MaxSizeMB  int
    MaxBackups int
    MaxAgeDays int
    Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
    Send          bool
    APIKey        string
    OrgID         string
    Dataset       string
    FlushInterval time.Duration
    MinLevel      string
}

// RedisConfig defines redis connectivity and key lifetimes.
type RedisConfig struct {
    URL          string
    DocumentTTL  time.Duration
    EventsPrefix string
    EventsMaxLen int64
}

// StorageConfig defines where uploaded PDFs live.
type StorageConfig struct {
    Backend            string // "s3"|"local"
    LocalDir           string
    Bucket             string
    Region             string
    Endpoint           string
    AccessKeyID        string
    SecretAccessKey    string
    EncryptionPassword string
    FetchTimeout       time.Duration
}

// ViewerConfig holds the defaults a session's document and pages start from.
type ViewerConfig struct {
    Thresholds            []float64
    DefaultWidth          float64
    DefaultHeight         float64
    Scale                 float64
    ShowAllPages          bool
    RenderAnnotationLayer bool
    RenderTextLayer       bool
    ExternalLinkTarget    string
    Loading               string
    Error                 string
    NoData                string
    StrictValidation      bool
}

// RenderConfig controls page rasterisation.
type RenderConfig struct {
    Format  string // "png"|"jpeg"
    Quality int
    Width   float64
    Timeout time.Duration

    BreakerThreshold  int
    BreakerBackoff    time.Duration
    BreakerMaxBackoff time.Duration
}

// WorkerConfig defines the render pool.
type WorkerConfig struct {
    Concurrency       int
    MaxInflightPerDoc int
}

// HTTPConfig defines the API listener.
type HTTPConfig struct {
    Port            string
    ReadTimeout     time.Duration
    WriteTimeout    time.Duration
    ShutdownTimeout time.Duration
    MaxUploadMB     int64
}

// WebConfig defines the HTML viewer login.
type WebConfig struct {
    Username   string
    Password   string
    CookieName string
}

// Config is the top-level configuration.
type Config struct {
    Environment string
    Logging     LoggingConfig
    Axiom       AxiomConfig
    Redis       RedisConfig
    Storage     StorageConfig
    Viewer      ViewerConfig
    Render      RenderConfig
    Worker      WorkerConfig
    HTTP        HTTPConfig
    Web         WebConfig
    // ProbeFile is a small PDF /status opens to check the engine.
    ProbeFile string
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load(files ...string) Config {
    if len(files) == 0 {
        files = []string{".env"}
    }
    for _, f := range files {
        if _, err := os.Stat(f); err == nil {
            _ = godotenv.Load(f)
        }
    }
    return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
    cfg := Config{
        Environment: getEnv("ENVIRONMENT", "production"),
        ProbeFile:   getEnv("STATUS_PROBE_PDF", ""),
    }

    // Logging defaults
    cfg.Logging = LoggingConfig{
        Level:      getEnv("LOG_LEVEL", "info"),
        Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
        File:       getEnv("LOG_FILE", "logs/bboxviewer.log"),
        MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
        MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
        MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
        Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
    }

    // Axiom defaults
    baseDataset := getEnv("AXIOM_DATASET", "dev")
    cfg.Axiom = AxiomConfig{
        Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
        APIKey:        getEnv("AXIOM_API_KEY", ""),
        OrgID:         getEnv("AXIOM_ORG_ID", ""),
        Dataset:       baseDataset + "_bboxviewer",
        FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
        MinLevel:      getEnv("AXIOM_MIN_LEVEL", "info"),
    }

    cfg.Redis = RedisConfig{
        URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
        DocumentTTL:  parseDuration(getEnv("DOCUMENT_TTL", "24h"), 24*time.Hour),
        EventsPrefix: getEnv("EVENTS_STREAM_PREFIX", "viewer:events"),
        EventsMaxLen: int64(parseInt(getEnv("EVENTS_MAX_LEN", "1000"), 1000)),
    }

    cfg.Storage = StorageConfig{
        Backend:            strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
        LocalDir:           getEnv("UPLOAD_DIR", "data/uploads"),
        Bucket:             getEnv("AWS_S3_BUCKET", ""),
        Region:             getEnv("AWS_REGION", "us-east-1"),
        Endpoint:           getEnv("AWS_S3_ENDPOINT", ""),
        AccessKeyID:        getEnv("AWS_ACCESS_KEY_ID", ""),
        SecretAccessKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
        EncryptionPassword: getEnv("ENCRYPTION_PASSWORD", ""),
        FetchTimeout:       parseDuration(getEnv("FETCH_TIMEOUT", "30s"), 30*time.Second),
    }
    if cfg.Storage.Backend == "s3" && cfg.Storage.Bucket == "" {
        cfg.Storage.Backend = "local"
    }

    cfg.Viewer = ViewerConfig{
        Thresholds:            parseFloats(getEnv("VIEWER_THRESHOLDS", ""), nil),
        DefaultWidth:          parseFloat(getEnv("VIEWER_DEFAULT_WIDTH", "612"), 612),
        DefaultHeight:         parseFloat(getEnv("VIEWER_DEFAULT_HEIGHT", "792"), 792),
        Scale:                 parseFloat(getEnv("VIEWER_SCALE", "1.0"), 1.0),
        ShowAllPages:          parseBool(getEnv("VIEWER_SHOW_ALL_PAGES", "true")),
        RenderAnnotationLayer: parseBool(getEnv("VIEWER_ANNOTATION_LAYER", "true")),
        RenderTextLayer:       parseBool(getEnv("VIEWER_TEXT_LAYER", "false")),
        ExternalLinkTarget:    getEnv("VIEWER_LINK_TARGET", "_blank"),
        Loading:               getEnv("VIEWER_LOADING_TEXT", "Loading PDF…"),
        Error:                 getEnv("VIEWER_ERROR_TEXT", "Failed to load PDF file."),
        NoData:                getEnv("VIEWER_NO_DATA_TEXT", "No PDF file specified."),
        StrictValidation:      parseBool(getEnv("VIEWER_STRICT_VALIDATION", "0")),
    }

    cfg.Render = RenderConfig{
        Format:  strings.ToLower(getEnv("RENDER_FORMAT", "png")),
        Quality: parseInt(getEnv("RENDER_QUALITY", "85"), 85),
        Width:   parseFloat(getEnv("RENDER_WIDTH", "0"), 0),
        Timeout: parseDuration(getEnv("RENDER_TIMEOUT", "30s"), 30*time.Second),

        BreakerThreshold:  parseInt(getEnv("RENDER_BREAKER_THRESHOLD", "3"), 3),
        BreakerBackoff:    parseDuration(getEnv("RENDER_BREAKER_BACKOFF", "30s"), 30*time.Second),
        BreakerMaxBackoff: parseDuration(getEnv("RENDER_BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
    }

    cfg.Worker = WorkerConfig{
        Concurrency:       parseInt(getEnv("WORKER_CONCURRENCY", "4"), 4),
        MaxInflightPerDoc: parseInt(getEnv("RENDER_MAX_INFLIGHT_PER_DOC", "2"), 2),
    }
    if cfg.Worker.Concurrency <= 0 { cfg.Worker.Concurrency = 1 }

    cfg.HTTP = HTTPConfig{
        Port:            getEnv("PORT", "8080"),
        ReadTimeout:     parseDuration(getEnv("HTTP_READ_TIMEOUT", "30s"), 30*time.Second),
        WriteTimeout:    parseDuration(getEnv("HTTP_WRITE_TIMEOUT", "60s"), 60*time.Second),
        ShutdownTimeout: parseDuration(getEnv("HTTP_SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
        MaxUploadMB:     int64(parseInt(getEnv("MAX_UPLOAD_MB", "50"), 50)),
    }

    cfg.Web = WebConfig{
        Username:   getEnv("WEB_USERNAME", ""),
        Password:   getEnv("WEB_PASSWORD", ""),
        CookieName: getEnv("WEB_COOKIE_NAME", "bboxviewer_auth"),
    }

    return cfg
}

// Helpers
func getEnv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func parseInt(s string, def int) int {
    if s == "" { return def }
    if n, err := strconv.Atoi(s); err == nil { return n }
    return def
}

func parseFloat(s string, def float64) float64 {
    if s == "" { return def }
    if f, err := strconv.ParseFloat(s, 64); err == nil { return f }
    return def
}

// parseFloats reads a comma separated list; any bad entry yields def.
func parseFloats(s string, def []float64) []float64 {
    if strings.TrimSpace(s) == "" { return def }
    parts := strings.Split(s, ",")
    out := make([]float64, 0, len(parts))
    for _, p := range parts {
        f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
        if err != nil { return def }
        out = append(out, f)
    }
    return out
}

func parseBool(s string) bool {
    v := strings.ToLower(strings.TrimSpace(s))
    return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
    if s == "" { return def }
    if d, err := time.ParseDuration(s); err == nil { return d }
    return def
}

func devDefaultPretty() string {
    env := strings.ToLower(os.Getenv("ENVIRONMENT"))
    if env == "dev" || env == "development" || env == "local" { return "true" }
    return "false"
}
