package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ironsheep/sketchcam/internal/workflow"
)

func newProcessCommand(a *app) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "process <image>...",
		Short: "Sketch image files",
		Long: `process reads each image, sketches it and saves the results under the
image's base name in the output directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withWorkflow(cmd.Context(), func(wf *workflow.Workflow) error {
				var bar *progressbar.ProgressBar
				if !quiet {
					bar = progressbar.NewOptions(len(args),
						progressbar.OptionSetDescription("Sketching"),
						progressbar.OptionSetWriter(os.Stderr),
						progressbar.OptionShowCount(),
					)
				}
				return processFiles(cmd.Context(), wf, args, a.processOptions(), bar, a.log)
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")
	return cmd
}

// fileStem returns the base name of path without its extension.
func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// processFiles sketches every file, skipping the ones that fail. It reports
// an error when no file could be saved.
func processFiles(ctx context.Context, wf *workflow.Workflow, paths []string, opts workflow.ProcessOptions, bar *progressbar.ProgressBar, log logrus.FieldLogger) error {
	failed := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := processFile(ctx, wf, path, opts, log); err != nil {
			failed++
			log.WithError(err).WithField("file", path).Warn("skipping image")
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	if failed == len(paths) {
		return fmt.Errorf("none of the %d images could be processed", len(paths))
	}
	if failed > 0 {
		log.WithFields(logrus.Fields{"failed": failed, "total": len(paths)}).Warn("some images were skipped")
	}
	return nil
}

func processFile(ctx context.Context, wf *workflow.Workflow, path string, opts workflow.ProcessOptions, log logrus.FieldLogger) error {
	if _, err := wf.Read(path); err != nil {
		return err
	}
	if err := wf.Process(ctx, nil, opts); err != nil {
		return err
	}
	if err := wf.LastError(); err != nil {
		return err
	}
	saved, err := wf.SaveResults(fileStem(path), opts.Debug)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"file": path, "sketch": saved.Sketch}).Debug("saved")
	return nil
}
