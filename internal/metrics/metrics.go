// Package metrics provides Prometheus metrics for the channel engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "stegochannel"
)

// Metrics contains all Prometheus metrics for the engine.
type Metrics struct {
	// Beacon metrics
	BeaconFetches     *prometheus.CounterVec
	BeaconStaleServes *prometheus.CounterVec

	// Sender metrics
	MessagesEnqueued       prometheus.Counter
	TransmissionsComplete  prometheus.Counter
	TransmissionsCancelled prometheus.Counter
	EpochAbandons          prometheus.Counter
	BitsSent               prometheus.Counter
	SignalPostsPlanned     prometheus.Counter
	CoverPostsSeen         prometheus.Counter
	EditSuggestions        prometheus.Counter

	// Receiver metrics
	PostsScanned     prometheus.Counter
	SignalPostsFound prometheus.Counter
	FramesDecoded    prometheus.Counter
	FrameFailures    *prometheus.CounterVec
	ReplaysRejected  prometheus.Counter
	NoiseBursts      prometheus.Counter
	ECCorrections    prometheus.Histogram
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BeaconFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beacon_fetches_total",
			Help:      "Total beacon fetches by kind and result",
		}, []string{"kind", "result"}),
		BeaconStaleServes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beacon_stale_serves_total",
			Help:      "Total beacon reads served from stale cache by kind",
		}, []string{"kind"}),

		MessagesEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_enqueued_total",
			Help:      "Total messages handed to the bit planner",
		}),
		TransmissionsComplete: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transmissions_complete_total",
			Help:      "Total transmissions that delivered every frame bit",
		}),
		TransmissionsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transmissions_cancelled_total",
			Help:      "Total transmissions cancelled by the caller",
		}),
		EpochAbandons: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epoch_abandons_total",
			Help:      "Total in-flight frames abandoned at an epoch boundary",
		}),
		BitsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bits_sent_total",
			Help:      "Total frame bits confirmed onto signal posts",
		}),
		SignalPostsPlanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_posts_planned_total",
			Help:      "Total candidate posts classified as signal by the planner",
		}),
		CoverPostsSeen: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cover_posts_seen_total",
			Help:      "Total candidate posts classified as cover by the planner",
		}),
		EditSuggestions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edit_suggestions_total",
			Help:      "Total feature edit suggestions returned to callers",
		}),

		PostsScanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_scanned_total",
			Help:      "Total peer posts examined by the reassembler",
		}),
		SignalPostsFound: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_posts_found_total",
			Help:      "Total peer posts the selector marked as signal",
		}),
		FramesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Total frames decoded and authenticated",
		}),
		FrameFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_failures_total",
			Help:      "Total frame decode failures by reason",
		}, []string{"reason"}),
		ReplaysRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replays_rejected_total",
			Help:      "Total decoded frames rejected by the sequence floor",
		}),
		NoiseBursts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "noise_bursts_total",
			Help:      "Total noise-burst diagnostics after exhausted slides",
		}),
		ECCorrections: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ec_corrections_per_frame",
			Help:      "Histogram of Reed-Solomon corrections per decoded frame",
			Buckets:   []float64{0, 1, 2, 3, 4},
		}),
	}
}
