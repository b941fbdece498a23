package main

import (
    "context"
    "net/http"
    "os"
    "os/signal"
    "syscall"

    "github.com/rs/zerolog/log"

    cfgpkg "github.com/local/bboxviewer/internal/config"
    "github.com/local/bboxviewer/internal/dispatcher"
    "github.com/local/bboxviewer/internal/engine"
    "github.com/local/bboxviewer/internal/events"
    "github.com/local/bboxviewer/internal/filetype"
    "github.com/local/bboxviewer/internal/limiter"
    logpkg "github.com/local/bboxviewer/internal/logger"
    "github.com/local/bboxviewer/internal/metrics"
    "github.com/local/bboxviewer/internal/server"
    "github.com/local/bboxviewer/internal/statuscheck"
    "github.com/local/bboxviewer/internal/storage"
    "github.com/local/bboxviewer/internal/store"
    "github.com/local/bboxviewer/internal/web"
)

func main() {
    cfg := cfgpkg.Load()

    // Init logging
    _ = logpkg.Init(logpkg.Options{
        Service:       "bboxviewer",
        Level:         cfg.Logging.Level,
        Pretty:        cfg.Logging.Pretty,
        File:          cfg.Logging.File,
        MaxSizeMB:     cfg.Logging.MaxSizeMB,
        MaxBackups:    cfg.Logging.MaxBackups,
        MaxAgeDays:    cfg.Logging.MaxAgeDays,
        Compress:      cfg.Logging.Compress,
        SendToAxiom:   cfg.Axiom.Send && cfg.Axiom.APIKey != "",
        AxiomAPIKey:   cfg.Axiom.APIKey,
        AxiomOrgID:    cfg.Axiom.OrgID,
        AxiomDataset:  cfg.Axiom.Dataset,
        AxiomFlush:    cfg.Axiom.FlushInterval,
        AxiomMinLevel: cfg.Axiom.MinLevel,
    })
    defer logpkg.Close()
    metrics.Init()

    // Document status store
    docs, err := store.NewDocumentStore(cfg.Redis.URL, cfg.Redis.DocumentTTL)
    if err != nil {
        log.Fatal().Err(err).Msg("failed to connect to redis")
    }
    defer docs.Close()
    rdb := docs.Client()

    bboxes := store.NewBboxStoreFromClient(rdb, cfg.Redis.DocumentTTL)
    pub := events.NewPublisherFromClient(rdb, cfg.Redis.EventsPrefix, cfg.Redis.EventsMaxLen)

    // Storage backend
    ctx := context.Background()
    fetcher := &storage.Fetcher{MaxBytes: cfg.HTTP.MaxUploadMB << 20, HTTP: &http.Client{Timeout: cfg.Storage.FetchTimeout}}
    var st storage.Store
    switch cfg.Storage.Backend {
    case "s3":
        s3c, err := storage.NewS3Client(ctx, storage.S3Options{
            Bucket:          cfg.Storage.Bucket,
            Region:          cfg.Storage.Region,
            Endpoint:        cfg.Storage.Endpoint,
            AccessKeyID:     cfg.Storage.AccessKeyID,
            SecretAccessKey: cfg.Storage.SecretAccessKey,
            Password:        cfg.Storage.EncryptionPassword,
        })
        if err != nil { log.Fatal().Err(err).Msg("failed to init s3 storage") }
        st, fetcher.S3 = s3c, s3c
    default:
        local, err := storage.NewLocal(cfg.Storage.LocalDir)
        if err != nil { log.Fatal().Err(err).Msg("failed to init local storage") }
        st, fetcher.LocalRoot = local, local.Dir()
    }

    // Render pool
    pool := dispatcher.New(dispatcher.Config{Concurrency: cfg.Worker.Concurrency, JobTimeout: cfg.Render.Timeout})
    pool.Start()
    breaker := dispatcher.NewCircuitBreaker(rdb, cfg.Render.BreakerThreshold, cfg.Render.BreakerBackoff, cfg.Render.BreakerMaxBackoff)

    opener := engine.PDFOpener{Strict: cfg.Viewer.StrictValidation}
    var probe []byte
    if cfg.ProbeFile != "" {
        if probe, err = os.ReadFile(cfg.ProbeFile); err != nil {
            log.Warn().Err(err).Str("file", cfg.ProbeFile).Msg("probe document unreadable")
        }
    }
    checker := statuscheck.New(statuscheck.Options{
        Redis:          pub,
        Storage:        st,
        StorageBackend: cfg.Storage.Backend,
        Opener:         opener,
        Probe:          probe,
    })

    api := server.New(server.Dependencies{
        Opener:      opener,
        Storage:     st,
        Fetcher:     fetcher,
        Documents:   docs,
        Bboxes:      bboxes,
        Events:      pub,
        Runner:      pool,
        Breaker:     breaker,
        Limiter:     limiter.New(cfg.Worker.MaxInflightPerDoc),
        Detector:    filetype.New(),
        Status:      checker,
        Viewer:      cfg.Viewer,
        Render:      cfg.Render,
        MaxUploadMB: cfg.HTTP.MaxUploadMB,
    })
    mux := http.NewServeMux()
    api.RegisterRoutes(mux)

    // HTML viewer
    ui := web.New(web.Options{
        Username:   cfg.Web.Username,
        Password:   cfg.Web.Password,
        CookieName: cfg.Web.CookieName,
        APIBase:    "http://127.0.0.1:" + cfg.HTTP.Port,
    }, api)
    ui.RegisterRoutes(mux)

    port := cfg.HTTP.Port
    srv := &http.Server{
        Addr:         ":" + port,
        Handler:      mux,
        ReadTimeout:  cfg.HTTP.ReadTimeout,
        WriteTimeout: cfg.HTTP.WriteTimeout,
    }

    go func(){
        log.Info().Str("storage", cfg.Storage.Backend).Int("workers", cfg.Worker.Concurrency).Msgf("HTTP server listening on :%s", port)
        if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatal().Err(err).Msg("http server error")
        }
    }()

    // Graceful shutdown
    hup := make(chan os.Signal, 1)
    signal.Notify(hup, syscall.SIGHUP)
    go func(){
        for range hup {
            if err := logpkg.Rotate(); err != nil { log.Warn().Err(err).Msg("log rotate failed") }
        }
    }()
    stop := make(chan os.Signal, 1)
    signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
    <-stop
    signal.Stop(hup)
    sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
    defer cancel()
    _ = srv.Shutdown(sctx)
    api.Close()
    if err := pool.Stop(sctx); err != nil {
        log.Warn().Err(err).Dur("timeout", cfg.HTTP.ShutdownTimeout).Msg("render pool did not drain")
    }
    log.Info().Msg("shutdown complete")
}
