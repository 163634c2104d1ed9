package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"

	"ctvolume/pkg/config"
	"ctvolume/pkg/reslice"
	"ctvolume/pkg/series"
	"ctvolume/pkg/session"
	"ctvolume/pkg/volume"
)

var (
	configPath string
	verbose    bool
	inputDir   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ctvolume",
		Short:         "Multi-layer CT volume renderer and reslicer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			logrus.SetLevel(logrus.InfoLevel)
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "ctvolume.yaml", "Configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newRenderCmd(), newSlicesCmd(), newReplayCmd(), newInfoCmd(), newInitConfigCmd())
	return root
}

func addInputFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&inputDir, "input", "i", "", "Directory containing the CT slice series")
	_ = cmd.MarkFlagRequired("input")
}

// openSession loads the configuration and the series and builds a session.
func openSession() (*config.Config, *session.Session, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Output.Verbose && !verbose {
		logrus.SetLevel(logrus.WarnLevel)
	}
	log := logrus.WithField("input", inputDir)

	vol, err := series.Load(inputDir, series.Options{
		Spacing:          [3]float64{cfg.Volume.Spacing.X, cfg.Volume.Spacing.Y, cfg.Volume.Spacing.Z},
		RescaleSlope:     cfg.Volume.RescaleSlope,
		RescaleIntercept: cfg.Volume.RescaleIntercept,
		Logger:           log,
	})
	if err != nil {
		return nil, nil, err
	}
	s, err := session.New(session.Params{Config: cfg, Volume: vol, Logger: log})
	if err != nil {
		return nil, nil, err
	}
	return cfg, s, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func newRenderCmd() *cobra.Command {
	var output, viewsDir string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Composite every layer into one image",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg, s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			start := time.Now()
			img, err := s.Image(ctx)
			if err != nil {
				return fmt.Errorf("failed to render: %w", err)
			}
			if err := reslice.SaveSlice(img, output); err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"output":  output,
				"elapsed": time.Since(start).Round(time.Millisecond),
			}).Info("Rendered volume")

			if viewsDir == "" {
				return nil
			}
			return saveViews(ctx, cfg, s, viewsDir)
		},
	}
	addInputFlag(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "render.png", "Output image (.png, .tiff or .jpg)")
	cmd.Flags().StringVar(&viewsDir, "views-dir", "", "Also write the axial, coronal and sagittal center slices here")
	return cmd
}

func saveViews(ctx context.Context, cfg *config.Config, s *session.Session, dir string) error {
	views, err := s.Views(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for o, img := range views.Slices {
		path := filepath.Join(dir, fmt.Sprintf("%s.%s", o, cfg.Output.SliceFormat))
		if err := reslice.SaveSlice(img.Gray16(cfg.Reslice.WindowLow, cfg.Reslice.WindowHigh), path); err != nil {
			return err
		}
		logrus.WithField("path", path).Debug("Saved view")
	}
	return nil
}

func newSlicesCmd() *cobra.Command {
	var outputDir, orientation string
	cmd := &cobra.Command{
		Use:   "slices",
		Short: "Write every slice along the canonical orientations",
		RunE: func(cmd *cobra.Command, args []string) error {
			orientations := reslice.Orientations
			if orientation != "all" {
				o, err := reslice.ParseOrientation(orientation)
				if err != nil {
					return err
				}
				orientations = []reslice.Orientation{o}
			}

			_, s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			for _, o := range orientations {
				if _, err := s.SaveSlices(o, filepath.Join(outputDir, o.String())); err != nil {
					return fmt.Errorf("failed to save %s slices: %w", o, err)
				}
			}
			return nil
		},
	}
	addInputFlag(cmd)
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "slices", "Directory for the slice images")
	cmd.Flags().StringVar(&orientation, "orientation", "all", "axial, coronal, sagittal or all")
	return cmd
}

func newReplayCmd() *cobra.Command {
	var eventsPath, outputDir string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Apply scripted parameter edits frame by frame and render each frame",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			script, err := loadScript(eventsPath)
			if err != nil {
				return err
			}
			_, s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return err
			}
			for i, frame := range script.Frames {
				if err := s.Apply(frame...); err != nil {
					logrus.WithField("frame", i).Warnf("Rejected events: %v", err)
				}
				img, err := s.Image(ctx)
				if err != nil {
					return fmt.Errorf("frame %d: %w", i, err)
				}
				path := filepath.Join(outputDir, fmt.Sprintf("frame_%03d.png", i))
				if err := reslice.SaveSlice(img, path); err != nil {
					return err
				}
				logrus.WithFields(logrus.Fields{"frame": i, "events": len(frame)}).Info("Rendered frame")
			}
			return nil
		},
	}
	addInputFlag(cmd)
	cmd.Flags().StringVarP(&eventsPath, "events", "e", "", "YAML file listing frames of parameter events")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "frames", "Directory for the rendered frames")
	_ = cmd.MarkFlagRequired("events")
	return cmd
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print the geometry and density statistics of a series",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			vol, err := series.Load(inputDir, series.Options{
				Spacing:          [3]float64{cfg.Volume.Spacing.X, cfg.Volume.Spacing.Y, cfg.Volume.Spacing.Z},
				RescaleSlope:     cfg.Volume.RescaleSlope,
				RescaleIntercept: cfg.Volume.RescaleIntercept,
				Logger:           logrus.StandardLogger(),
			})
			if err != nil {
				return err
			}
			g, err := volume.Ingest(vol.Samples, vol.Dims,
				r3.Vec{X: vol.Spacing[0], Y: vol.Spacing[1], Z: vol.Spacing[2]},
				r3.Vec{X: vol.Origin[0], Y: vol.Origin[1], Z: vol.Origin[2]},
				cfg.Volume.ClipMin, cfg.Volume.ClipMax)
			if err != nil {
				return err
			}

			sum := volume.Summarize(g)
			b := g.Bounds()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Dimensions: %dx%dx%d\n", vol.Dims[0], vol.Dims[1], vol.Dims[2])
			fmt.Fprintf(out, "Spacing:    %.3f x %.3f x %.3f mm\n", vol.Spacing[0], vol.Spacing[1], vol.Spacing[2])
			fmt.Fprintf(out, "Bounds:     (%.1f, %.1f, %.1f) - (%.1f, %.1f, %.1f)\n", b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z)
			fmt.Fprintf(out, "Clip range: [%g, %g]\n", cfg.Volume.ClipMin, cfg.Volume.ClipMax)
			fmt.Fprintf(out, "Density:    min %.0f  max %.0f  mean %.1f  std %.1f  median %.0f\n",
				sum.Min, sum.Max, sum.Mean, sum.StdDev, sum.Median)
			return nil
		},
	}
	addInputFlag(cmd)
	return cmd
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			logrus.WithField("path", path).Info("Wrote default configuration")
			return nil
		},
	}
}
