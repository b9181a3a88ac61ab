package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/opd-ai/avio"
	"github.com/opd-ai/avio/av"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type runOptions struct {
	Duration    time.Duration
	FrameRate   float64
	Width       int
	Height      int
	Effects     []string
	FlushOnStop bool
	Source      string
	Camera      string
	NoAudio     bool
	DrawEvery   int
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline",
		Long:  "Run the pipeline until the duration elapses or the process is interrupted.",
		Example: `  avio run --duration 10s
  avio run --source screen --fps 15 --width 320 --height 240
  avio run --effects grayscale --effects brightness=20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&opts.Duration, "duration", 5*time.Second, "How long to run; 0 runs until interrupted")
	flags.Float64Var(&opts.FrameRate, "fps", 30, "Capture frame rate")
	flags.IntVar(&opts.Width, "width", 640, "Frame width")
	flags.IntVar(&opts.Height, "height", 480, "Frame height")
	flags.StringSliceVar(&opts.Effects, "effects", nil, "Effects to apply in order, e.g. grayscale,brightness=20")
	flags.BoolVar(&opts.FlushOnStop, "flush-on-stop", true, "Present buffered frames when stopping")
	flags.StringVar(&opts.Source, "source", avio.SourceCamera, "Capture source (camera or screen)")
	flags.StringVar(&opts.Camera, "camera", "back", "Camera position (back or front)")
	flags.BoolVar(&opts.NoAudio, "no-audio", false, "Disable the audio path")
	flags.IntVar(&opts.DrawEvery, "draw-every", 15, "Print every Nth presented frame")

	cmd.RegisterFlagCompletionFunc("source", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{avio.SourceCamera, avio.SourceScreen}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

// pipelineOptions merges the configuration with the flags the user set.
func pipelineOptions(cmd *cobra.Command, root *rootOptions, opts *runOptions) (*avio.Options, error) {
	cfg, err := root.load()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("fps") {
		cfg.FrameRate = opts.FrameRate
	}
	if flags.Changed("width") {
		cfg.Width = opts.Width
	}
	if flags.Changed("height") {
		cfg.Height = opts.Height
	}
	if flags.Changed("effects") {
		cfg.Effects = opts.Effects
	}
	if flags.Changed("flush-on-stop") {
		cfg.QueueFlushOnStop = opts.FlushOnStop
	}
	if flags.Changed("source") {
		cfg.Source = opts.Source
	}
	if flags.Changed("camera") {
		cfg.Camera = opts.Camera
	}
	if opts.NoAudio {
		cfg.AudioEnabled = false
	}

	pipelineOpts, err := cfg.Options()
	if err != nil {
		return nil, errors.Wrap(err, "invalid options")
	}
	return pipelineOpts, nil
}

func runPipeline(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	out := cmd.OutOrStdout()

	pipelineOpts, err := pipelineOptions(cmd, root, opts)
	if err != nil {
		return err
	}
	drawable := newConsoleDrawable(out, opts.DrawEvery)
	pipelineOpts.Drawable = drawable

	p, err := avio.NewPipeline(pipelineOpts)
	if err != nil {
		return errors.Wrap(err, "failed to create pipeline")
	}
	p.Metrics().OnReport(func(r av.Report) { printReport(out, r) })

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	color.New(color.Bold).Fprintf(out, "Running pipeline %s (%s %dx%d @ %g fps)\n",
		p.ID(), pipelineOpts.Source, pipelineOpts.Width, pipelineOpts.Height, pipelineOpts.FrameRate)

	if err := p.Run(ctx); err != nil {
		return errors.Wrap(err, "pipeline failed")
	}

	printSummary(out, p, drawable.Frames())
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printSummary(w io.Writer, p *avio.Pipeline, drawn int) {
	snap := p.Metrics().Snapshot()
	color.New(color.Bold).Fprintln(w, "Pipeline summary")
	fmt.Fprintf(w, "  captured   %d\n", snap.Total(avio.StageCapture, "captured"))
	fmt.Fprintf(w, "  encoded    %d\n", snap.Total(avio.StageVideoEncoder, "encoded"))
	fmt.Fprintf(w, "  packets    %d\n", snap.Total(avio.StageLink, "delivered"))
	fmt.Fprintf(w, "  decoded    %d\n", snap.Total(avio.StageVideoDecoder, "decoded"))
	fmt.Fprintf(w, "  presented  %d\n", drawn)
	fmt.Fprintf(w, "  late       %d\n", snap.Total(avio.StagePresentation, "late"))
	if adapter := p.Adapter(); adapter != nil {
		fmt.Fprintf(w, "  bitrate    %d kbps (%s)\n", adapter.BitRate()/1000, adapter.Health())
	}
}
