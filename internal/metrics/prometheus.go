package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SourcesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourcebook_sources_ingested_total",
			Help: "Ingestion runs by source type and outcome",
		},
		[]string{"type", "status"},
	)

	IngestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sourcebook_ingest_duration_seconds",
			Help:    "Time spent extracting, chunking and committing a source",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"type"},
	)

	ChunksPerSource = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sourcebook_chunks_per_source",
			Help:    "Number of chunks committed per successful ingestion",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	RetrievalResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sourcebook_retrieval_results",
			Help:    "Number of chunks returned per retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	ChatStreams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourcebook_chat_streams_total",
			Help: "Chat completions relayed by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	Uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourcebook_uploads_total",
			Help: "Files offered to the upload coordinator by outcome",
		},
		[]string{"outcome"},
	)

	CrawledPages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourcebook_crawled_pages_total",
			Help: "Pages returned by the crawl service",
		},
		[]string{"mode"},
	)
)

var once sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(SourcesIngested)
		prometheus.MustRegister(IngestDuration)
		prometheus.MustRegister(ChunksPerSource)
		prometheus.MustRegister(RetrievalResults)
		prometheus.MustRegister(ChatStreams)
		prometheus.MustRegister(Uploads)
		prometheus.MustRegister(CrawledPages)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
