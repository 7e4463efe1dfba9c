package telemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderMetrics(t *testing.T) {
	r := NewRecorder()
	r.ObserveStage("train", 1500*time.Millisecond)
	r.SetRows("cleaned", 683)
	r.SetDroppedFeatures(1)
	r.SetModelScores("SVM", 0.96, 0.99)
	r.SetCVScore("Random Forest", 0.98)
	r.ModelFailed("evaluate")
	r.ModelFailed("evaluate")

	assert.Equal(t, 1.5, testutil.ToFloat64(r.stageDuration.WithLabelValues("train")))
	assert.Equal(t, 683.0, testutil.ToFloat64(r.rows.WithLabelValues("cleaned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.droppedCols))
	assert.Equal(t, 0.96, testutil.ToFloat64(r.accuracy.WithLabelValues("SVM")))
	assert.Equal(t, 0.99, testutil.ToFloat64(r.auc.WithLabelValues("SVM")))
	assert.Equal(t, 0.98, testutil.ToFloat64(r.cvAUC.WithLabelValues("Random Forest")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.failures.WithLabelValues("evaluate")))
}

func TestRecorderWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.SetModelScores("XGBoost", 0.95, 0.985)
	r.MarkSuccess(time.Unix(1700000000, 0))

	path := filepath.Join(t.TempDir(), "out", "pipeline_metrics.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `bcpipeline_model_accuracy{model="XGBoost"} 0.95`)
	assert.Contains(t, text, `bcpipeline_model_auc{model="XGBoost"} 0.985`)
	assert.Contains(t, text, "bcpipeline_last_success_timestamp_seconds 1.7e+09")
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.ObserveStage("prepare", time.Second)
	r.SetModelScores("SVM", 1, 1)
	r.ModelFailed("train")
	assert.Nil(t, r.Registry())
	assert.NoError(t, r.WriteTextfile("ignored.prom"))
}
