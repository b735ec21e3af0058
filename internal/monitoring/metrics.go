package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label names
const (
	LabelTool    = "tool"
	LabelStatus  = "status"
	LabelVersion = "version"
	LabelGitSHA  = "git_sha"
)

// Registry holds every metric of the process. The batch tools have no
// scrape endpoint; WriteTextfile dumps it for the node-exporter textfile
// collector.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	BuildInfo = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "timepix",
		Name:      "build_info",
		Help:      "A metric with a constant value '1', labeled by version and git SHA",
	}, []string{LabelVersion, LabelGitSHA})

	// HitsRead counts hits consumed from hits.bin, after filtering.
	HitsRead = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timepix",
		Name:      "hits_read_total",
		Help:      "Total number of hits read",
	}, []string{LabelTool})

	HitsFiltered = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timepix",
		Name:      "hits_filtered_total",
		Help:      "Total number of hits removed by the ToT threshold or pixel mask",
	}, []string{LabelTool})

	ContestedHits = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timepix",
		Name:      "hits_contested_total",
		Help:      "Total number of hits inside more than one trigger window",
	}, []string{LabelTool})

	ClustersEmitted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timepix",
		Name:      "clusters_emitted_total",
		Help:      "Total number of clusters produced by the engine",
	}, []string{LabelTool})

	EventsWritten = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timepix",
		Name:      "events_written_total",
		Help:      "Total number of events written to output files",
	}, []string{LabelTool})

	WindowsEmitted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timepix",
		Name:      "windows_emitted_total",
		Help:      "Total number of trigger windows produced",
	}, []string{LabelTool})

	PeakActiveHits = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "timepix",
		Name:      "peak_active_hits",
		Help:      "Largest active window of the clustering engine in the last run",
	}, []string{LabelTool})

	Runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timepix",
		Name:      "runs_total",
		Help:      "Total number of run directories processed, by outcome",
	}, []string{LabelTool, LabelStatus})

	RunDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "timepix",
		Name:      "run_duration_seconds",
		Help:      "Wall time spent processing one run directory",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{LabelTool})
)

// WriteTextfile writes the current metric values to path in the Prometheus
// text format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
