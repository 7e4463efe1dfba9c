package log

// Keys follow a dotted "category.name" convention so records can be filtered
// by prefix.

// Run and stage context.
const (
	RunIDKey     = "run.id"
	StageKey     = "ml.stage"
	OperationKey = "ml.operation"
	ComponentKey = "ml.component"
	ModelNameKey = "model.name"
	// ParamsKey holds the hyperparameters chosen by grid search.
	ParamsKey = "model.params"
	PathKey   = "io.path"
)

// Data shape.
const (
	SamplesKey     = "data.samples"
	FeaturesKey    = "data.features"
	RowsDroppedKey = "data.rows_dropped"
	ColumnsKey     = "data.columns"
)

// Metrics and timing.
const (
	DurationMsKey = "perf.duration_ms"
	AccuracyKey   = "metrics.accuracy"
	AUCKey        = "metrics.auc"
	CVScoreKey    = "metrics.cv_auc"
	LossKey       = "metrics.loss"
	IterationKey  = "training.iteration"
	RandomSeedKey = "config.random_seed"
)

// Error context.
const (
	ErrorKey      = "error"
	StacktraceKey = "error.stacktrace"
	ErrorTypeKey  = "error.type"
	WarningKey    = "warning"
)

// Standard attribute values.
const (
	StagePrepare  = "prepare"
	StageTrain    = "train"
	StageEvaluate = "evaluate"
	StageExplain  = "explain"

	OperationFit       = "fit"
	OperationPredict   = "predict"
	OperationTransform = "transform"
	OperationScore     = "score"
	OperationSave      = "save"
	OperationLoad      = "load"
)
