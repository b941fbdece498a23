package metrics

import (
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    documentsLoaded = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "bboxviewer",
            Name:      "documents_loaded_total",
            Help:      "Documents opened by result (success, error, no_data)",
        },
        []string{"result"},
    )

    pageLoads = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "bboxviewer",
            Name:      "page_loads_total",
            Help:      "Page loads triggered by viewport intersection, by result",
        },
        []string{"result"},
    )

    pageRenders = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "bboxviewer",
            Name:      "page_renders_total",
            Help:      "Page renders by result",
        },
        []string{"result"},
    )

    renderLatency = prometheus.NewHistogram(
        prometheus.HistogramOpts{
            Namespace: "bboxviewer",
            Name:      "page_render_duration_seconds",
            Help:      "Duration of page rasterisation",
            Buckets:   prometheus.DefBuckets,
        },
    )

    bboxResolutions = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "bboxviewer",
            Name:      "bbox_resolutions_total",
            Help:      "Bounding boxes processed by outcome (resolved, unresolved, passthrough)",
        },
        []string{"result"},
    )

    viewportEvents = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "bboxviewer",
            Name:      "viewport_events_total",
            Help:      "Intersection updates delivered to pages",
        },
    )

    activeSessions = prometheus.NewGauge(
        prometheus.GaugeOpts{
            Namespace: "bboxviewer",
            Name:      "active_sessions",
            Help:      "Viewer sessions currently open",
        },
    )
)

var once sync.Once

// Init registers collectors. Safe to call more than once.
func Init() {
    once.Do(func() {
        prometheus.MustRegister(documentsLoaded, pageLoads, pageRenders, renderLatency, bboxResolutions, viewportEvents, activeSessions)
    })
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncDocumentLoaded(result string) { documentsLoaded.WithLabelValues(result).Inc() }
func IncPageLoad(result string)       { pageLoads.WithLabelValues(result).Inc() }
func IncViewport()                    { viewportEvents.Inc() }

func ObserveRender(result string, dur time.Duration) {
    pageRenders.WithLabelValues(result).Inc()
    renderLatency.Observe(dur.Seconds())
}

// ObserveResolutions records the outcome of one page's bbox resolution.
func ObserveResolutions(resolved, unresolved, passthrough int) {
    bboxResolutions.WithLabelValues("resolved").Add(float64(resolved))
    bboxResolutions.WithLabelValues("unresolved").Add(float64(unresolved))
    bboxResolutions.WithLabelValues("passthrough").Add(float64(passthrough))
}

func SessionOpened() { activeSessions.Inc() }
func SessionClosed() { activeSessions.Dec() }
