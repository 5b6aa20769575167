package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Archive content cache metrics, labelled by scheme prefix.
var (
	ArchiveCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsifs_archive_cache_hits_total",
			Help: "Archive listings served from the content cache",
		},
		[]string{"scheme"},
	)
	ArchiveCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsifs_archive_cache_misses_total",
			Help: "Archive listings that required a scan",
		},
		[]string{"scheme"},
	)
	ArchiveScanFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsifs_archive_scan_failures_total",
			Help: "Archive scans that failed and were not cached",
		},
		[]string{"scheme"},
	)
	ArchiveEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vsifs_archive_cached_entries",
			Help: "Entries currently held in archive content caches",
		},
		[]string{"scheme"},
	)
)

// Chunk cache metrics for cached file handles.
var (
	ChunkHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vsifs_chunk_cache_hits_total",
		Help: "Chunk reads served from a cached file handle",
	})
	ChunkMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vsifs_chunk_cache_misses_total",
		Help: "Chunk reads forwarded to the underlying handle",
	})
)

// Object store metrics, labelled by backend scheme.
var (
	StatCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsifs_stat_cache_hits_total",
			Help: "Stat calls answered from the stat cache",
		},
		[]string{"scheme"},
	)
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsifs_backend_requests_total",
			Help: "Requests issued to storage backends",
		},
		[]string{"scheme", "op"},
	)
	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsifs_backend_errors_total",
			Help: "Failed storage backend requests",
		},
		[]string{"scheme", "op"},
	)
	BackendBytesRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsifs_backend_read_bytes_total",
			Help: "Bytes fetched from storage backends",
		},
		[]string{"scheme"},
	)
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
