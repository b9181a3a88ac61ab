package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/opd-ai/avio/av/capture"
	"github.com/opd-ai/avio/av/video"
	"github.com/spf13/cobra"
)

func newDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the simulated capture devices",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printDevices(cmd.OutOrStdout())
		},
	}
}

func printDevices(w io.Writer) {
	title := color.New(color.Bold)
	faint := color.New(color.Faint)

	title.Fprintln(w, "Cameras")
	for _, position := range []capture.Position{capture.PositionBack, capture.PositionFront} {
		cfg := capture.NewSimCameraConfig("sim-"+position.String(), position)

		ranges := make([]string, 0, len(cfg.FrameRateRanges))
		for _, r := range cfg.FrameRateRanges {
			ranges = append(ranges, fmt.Sprintf("%g-%g", r.Min, r.Max))
		}

		fmt.Fprintf(w, "  %-10s position=%-5s size=%dx%d fps=%s zoom=1-%gx torch=%t\n",
			cfg.ID, position, cfg.Width, cfg.Height, strings.Join(ranges, ","), cfg.MaxZoom, cfg.HasTorch)
	}

	title.Fprintln(w, "Screens")
	fmt.Fprintf(w, "  %-10s any size, paced at the requested frame rate\n", "sim-screen")

	title.Fprintln(w, "Resolutions")
	for _, r := range video.CommonResolutions {
		fmt.Fprintf(w, "  %-10s %d kbps\n", r, video.GetBitrateForResolution(r)/1000)
	}
	faint.Fprintln(w, "Select a device with --source and --camera on the run command.")
}
