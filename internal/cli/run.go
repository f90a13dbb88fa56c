package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ironsheep/sketchcam/internal/workflow"
)

type runOptions struct {
	count    int
	interval time.Duration
}

func newRunCommand(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture, sketch and save camera frames",
		Long: `run repeats the capture, process and save cycle until --count frames
were saved or the program is interrupted. A frame that fails is logged and
skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVarP(&opts.count, "count", "n", 1, "Frames to save (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "Pause between cycles")
	return cmd
}

// withWorkflow builds and sets up a workflow, runs fn and closes it.
func (a *app) withWorkflow(ctx context.Context, fn func(*workflow.Workflow) error) error {
	wf, err := newWorkflow(a.cfg, a.log)
	if err != nil {
		return err
	}
	if err := wf.Setup(ctx); err != nil {
		wf.Close()
		return err
	}
	defer func() {
		if err := wf.Close(); err != nil {
			a.log.WithError(err).Warn("close failed")
		}
	}()
	return fn(wf)
}

func (a *app) run(ctx context.Context, opts runOptions) error {
	if opts.count < 0 {
		return fmt.Errorf("--count must be >= 0, got %d", opts.count)
	}
	return a.withWorkflow(ctx, func(wf *workflow.Workflow) error {
		return runCycles(ctx, wf, a.processOptions(), opts, a.log)
	})
}

// runCycles stops early only on interruption or a precondition failure.
func runCycles(ctx context.Context, wf *workflow.Workflow, popts workflow.ProcessOptions, opts runOptions, log logrus.FieldLogger) error {
	saved := 0
	for opts.count == 0 || saved < opts.count {
		res, err := wf.Run(ctx, popts)
		switch {
		case ctx.Err() != nil:
			log.Info("interrupted")
			return nil
		case errors.Is(err, workflow.ErrPrecondition):
			return err
		case err != nil:
			log.WithError(err).Warn("cycle failed, skipping frame")
		default:
			saved++
			log.WithFields(logrus.Fields{
				"sketch": res.Sketch,
				"labels": wf.Labels(),
			}).Info("saved")
		}

		if opts.interval > 0 {
			select {
			case <-ctx.Done():
				log.Info("interrupted")
				return nil
			case <-time.After(opts.interval):
			}
		}
	}
	return nil
}
