// Package bcpipeline is a batch machine-learning pipeline that classifies
// breast-cancer cytology samples as benign or malignant.
//
// The pipeline has four stages that communicate only through files:
//
//   - Prepare: load the raw Wisconsin file, drop rows with missing values,
//     remap the class codes {2, 4} to {0, 1} and remove highly correlated
//     features.
//   - Train: split the cleaned table into stratified train/test partitions,
//     tune Logistic Regression and Random Forest with cross-validated grid
//     search, fit SVM, XGBoost-style and LightGBM-style boosting and an MLP,
//     and save one bundle per model.
//   - Evaluate: score every saved model by accuracy and ROC AUC, draw a
//     confusion matrix per model and write a results table.
//   - Explain: compute exact TreeSHAP values for the random forest and draw
//     a summary plot and a feature importance chart.
//
// # Quick Start
//
// Run every stage with the default file names in the working directory:
//
//	go run ./cmd/bcpipeline
//
// Or drive the stages from Go:
//
//	cfg, err := config.Load("pipeline.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	p, err := pipeline.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := p.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Packages
//
//   - config: layered configuration (defaults, YAML file, BCPIPELINE_* env)
//   - dataset: raw file schema, cleaning and correlation filtering
//   - preprocessing: StandardScaler
//   - sklearn/...: estimators, stratified splitting and grid search
//   - metrics: accuracy, ROC AUC, confusion matrix
//   - artifact: model bundles and the training manifest
//   - explain: TreeSHAP attributions
//   - visualize: PNG charts
//   - pipeline: the four stages
//   - pkg/log, pkg/errors, pkg/telemetry: logging, typed errors, run metrics
//   - core/model, core/parallel: estimator interfaces and worker helpers
package bcpipeline
