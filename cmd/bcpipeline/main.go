// Command bcpipeline runs the breast-cancer classification pipeline.
//
// With no flags it runs every stage using the built-in defaults:
//
//	bcpipeline
//	bcpipeline --config pipeline.yaml --stage evaluate
//	BCPIPELINE_TRAINING_SEED=7 bcpipeline --log-format console
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/bcpipeline/config"
	"github.com/YuminosukeSato/bcpipeline/pipeline"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
	"github.com/YuminosukeSato/bcpipeline/pkg/log"
)

type options struct {
	configPath string
	logLevel   string
	logFormat  string
	stage      string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "bcpipeline",
		Short: "Prepare, train, evaluate and explain breast-cancer classifiers",
		Long: `bcpipeline cleans the Wisconsin breast-cancer data, trains six
classifiers, evaluates them on a held-out partition and explains the
random forest with SHAP values. Every stage reads and writes files, so a
single stage can be rerun with --stage.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, stdout, stderr)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML config file (optional)")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	f.StringVar(&opts.logFormat, "log-format", "", "json or console (overrides config)")
	f.StringVar(&opts.stage, "stage", "all", "stage to run: all, prepare, train, evaluate or explain")
	return cmd
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	logger, err := log.Setup(cfg.Log.Level, cfg.Log.Format, stderr)
	if err != nil {
		return err
	}

	p, err := pipeline.New(cfg, pipeline.WithLogger(logger), pipeline.WithOutput(stdout))
	if err != nil {
		return err
	}
	if opts.stage == "" || opts.stage == "all" {
		return p.Run(ctx)
	}
	return p.RunStage(ctx, opts.stage)
}

// exitMessage names the failed stage when there is one.
func exitMessage(err error) string {
	if stage := errors.StageOf(err); stage != "" {
		return fmt.Sprintf("bcpipeline: %s stage failed: %v", stage, err)
	}
	return fmt.Sprintf("bcpipeline: %v", err)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, exitMessage(err))
		stop()
		os.Exit(1)
	}
}
