// Package cli implements the sketchcam command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ironsheep/sketchcam/internal/config"
	"github.com/ironsheep/sketchcam/internal/logging"
	"github.com/ironsheep/sketchcam/internal/workflow"
)

// BuildInfo is set by main from linker flags.
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
}

// app holds what the subcommands share once the root pre-run has loaded
// the configuration.
type app struct {
	v       *viper.Viper
	cfgFile string
	build   BuildInfo

	cfg       *config.Config
	log       *logrus.Logger
	logCloser io.Closer
}

// NewRootCommand builds the command tree.
func NewRootCommand(build BuildInfo) *cobra.Command {
	a := &app{v: config.New(), build: build}

	root := &cobra.Command{
		Use:   "sketchcam",
		Short: "Turn camera frames into hand drawn sketches of what they show",
		Long: `sketchcam captures a frame, detects the objects in it and redraws
every confident detection as a sketch, saving the result to the output
directory.`,
		Version:       build.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logCloser != nil {
				a.logCloser.Close()
			}
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("sketchcam {{.Version}}\n  Build time: %s\n  Git commit: %s\n",
		build.BuildTime, build.GitCommit))

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "Config file (default: ./sketchcam.yaml or $HOME/.sketchcam/sketchcam.yaml)")
	flags.StringP("output-dir", "o", "images", "Directory receiving the results")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-dir", "", "Also write a dated log file to this directory")
	flags.BoolP("debug", "d", false, "Write labels, scores and the annotated image next to each sketch")
	flags.Float64P("threshold", "t", workflow.DefaultThreshold, "Detection score cutoff (0.0-1.0)")
	flags.IntP("top-x", "k", 0, "Keep only the top X detections (0 disables)")
	flags.String("detector", config.DetectorShapes, "Detector backend (shapes, onnx, worker)")
	flags.String("model", "", "ONNX detection model")
	flags.String("labels", "", "Label map (.pbtxt)")
	flags.String("camera", config.CameraNone, "Camera backend (ffmpeg, gocv, none)")
	flags.String("device", "/dev/video0", "Camera device (gocv takes an index)")
	flags.String("dataset", "", "Directory of reference drawings (<category>.ndjson)")

	for key, name := range map[string]string{
		"output.dir":        "output-dir",
		"output.debug":      "debug",
		"log.level":         "log-level",
		"log.dir":           "log-dir",
		"process.threshold": "threshold",
		"process.top_x":     "top-x",
		"detector.backend":  "detector",
		"detector.model":    "model",
		"detector.labels":   "labels",
		"camera.backend":    "camera",
		"camera.device":     "device",
		"dataset.dir":       "dataset",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}

	root.AddCommand(
		newRunCommand(a),
		newProcessCommand(a),
		newServeCommand(a),
	)
	return root
}

// load reads the configuration and sets up logging.
func (a *app) load() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	log, closer, err := logging.New(logging.Options{
		Level: cfg.Log.Level,
		Dir:   cfg.Log.Dir,
	})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	a.logCloser = closer
	if used := a.v.ConfigFileUsed(); used != "" {
		log.WithField("file", used).Debug("loaded config")
	}
	return nil
}

// processOptions returns the configured per-call parameters.
func (a *app) processOptions() workflow.ProcessOptions {
	return workflow.ProcessOptions{
		Threshold: a.cfg.Process.Threshold,
		TopX:      a.cfg.Process.TopX,
		Debug:     a.cfg.Output.Debug,
	}
}

// Execute runs the command line and returns the process exit code.
func Execute(build BuildInfo) int {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(build).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
