// Package telemetry records pipeline run metrics in a private Prometheus
// registry and writes them in the text exposition format, for pickup by a
// node-exporter textfile collector. No network listener is started.
package telemetry

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

const namespace = "bcpipeline"

// Recorder collects the metrics of one pipeline run. A nil *Recorder
// discards everything.
type Recorder struct {
	reg *prometheus.Registry

	stageDuration *prometheus.GaugeVec
	rows          *prometheus.GaugeVec
	droppedCols   prometheus.Gauge
	accuracy      *prometheus.GaugeVec
	auc           *prometheus.GaugeVec
	cvAUC         *prometheus.GaugeVec
	failures      *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		reg: reg,
		stageDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of the last run of each stage",
		}, []string{"stage"}),
		rows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows",
			Help:      "Row counts by kind (read, dropped, cleaned, train, test)",
		}, []string{"kind"}),
		droppedCols: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dropped_features",
			Help:      "Features removed by the correlation filter",
		}),
		accuracy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_accuracy",
			Help:      "Evaluation accuracy per model",
		}, []string{"model"}),
		auc: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_auc",
			Help:      "Evaluation ROC AUC per model",
		}, []string{"model"}),
		cvAUC: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_cv_auc",
			Help:      "Best mean cross-validated ROC AUC per tuned model",
		}, []string{"model"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_failures_total",
			Help:      "Models that failed or were skipped, by stage",
		}, []string{"stage"}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last fully successful run",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// ObserveStage records how long a stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// SetRows records a row count.
func (r *Recorder) SetRows(kind string, n int) {
	if r == nil {
		return
	}
	r.rows.WithLabelValues(kind).Set(float64(n))
}

// SetDroppedFeatures records how many features the correlation filter
// removed.
func (r *Recorder) SetDroppedFeatures(n int) {
	if r == nil {
		return
	}
	r.droppedCols.Set(float64(n))
}

// SetModelScores records evaluation metrics for a model.
func (r *Recorder) SetModelScores(model string, accuracy, auc float64) {
	if r == nil {
		return
	}
	r.accuracy.WithLabelValues(model).Set(accuracy)
	r.auc.WithLabelValues(model).Set(auc)
}

// SetCVScore records the grid-search score of a model.
func (r *Recorder) SetCVScore(model string, score float64) {
	if r == nil {
		return
	}
	r.cvAUC.WithLabelValues(model).Set(score)
}

// ModelFailed counts a model failure in stage.
func (r *Recorder) ModelFailed(stage string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(stage).Inc()
}

// MarkSuccess stamps the time of a successful run.
func (r *Recorder) MarkSuccess(t time.Time) {
	if r == nil {
		return
	}
	r.lastSuccess.Set(float64(t.Unix()))
}

// WriteTextfile writes every metric to path, creating its directory.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create directory for %s", path)
		}
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return errors.Wrapf(err, "write metrics to %s", path)
	}
	return nil
}
