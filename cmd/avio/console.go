package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/opd-ai/avio"
	"github.com/opd-ai/avio/av"
	"github.com/opd-ai/avio/av/capture"
	"github.com/opd-ai/avio/av/media"
)

const lumaBarWidth = 32

// consoleDrawable prints a one-line summary of every Nth presented frame.
type consoleDrawable struct {
	w     io.Writer
	every int

	mu          sync.Mutex
	frames      int
	orientation capture.Orientation
	position    capture.Position
}

func newConsoleDrawable(w io.Writer, every int) *consoleDrawable {
	if every < 1 {
		every = 1
	}
	return &consoleDrawable{w: w, every: every}
}

func (d *consoleDrawable) Draw(img *media.VideoFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.frames++
	if (d.frames-1)%d.every != 0 {
		return
	}
	luma := meanLuma(img)
	bar := strings.Repeat("#", int(luma)*lumaBarWidth/255)
	fmt.Fprintf(d.w, "frame %5d  %dx%d  %-11s luma %3d |%-*s|\n",
		d.frames, img.Width, img.Height, d.orientation, luma, lumaBarWidth, bar)
}

// Render replaces the sample's image with the rendered one.
func (d *consoleDrawable) Render(img *media.VideoFrame, into *media.Sample) error {
	into.ReplaceImage(img)
	return nil
}

func (d *consoleDrawable) SetOrientation(o capture.Orientation) {
	d.mu.Lock()
	d.orientation = o
	d.mu.Unlock()
}

func (d *consoleDrawable) SetPosition(p capture.Position) {
	d.mu.Lock()
	d.position = p
	d.mu.Unlock()
}

func (d *consoleDrawable) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

func meanLuma(img *media.VideoFrame) uint8 {
	if img == nil || len(img.Y) == 0 {
		return 0
	}
	var sum uint64
	for _, y := range img.Y {
		sum += uint64(y)
	}
	return uint8(sum / uint64(len(img.Y)))
}

// printReport writes one line per report. Late or dropped frames are
// highlighted.
func printReport(w io.Writer, r av.Report) {
	late := r.Delta(avio.StagePresentation, "late") + r.Delta(avio.StagePresentation, "skipped")
	dropped := r.Delta(avio.StageVideoEncoder, "dropped") + r.Delta(avio.StageLink, "dropped")

	line := fmt.Sprintf("report %3d  captured %4d  encoded %4d  presented %4d  late %3d  dropped %3d",
		r.Sequence,
		r.Delta(avio.StageCapture, "captured"),
		r.Delta(avio.StageVideoEncoder, "encoded"),
		r.Delta(avio.StageCapture, "presented"),
		late, dropped)

	switch {
	case dropped > 0:
		color.New(color.FgRed).Fprintln(w, line)
	case late > 0:
		color.New(color.FgYellow).Fprintln(w, line)
	default:
		color.New(color.FgGreen).Fprintln(w, line)
	}
}
