// Package avio wires the capture, transform, encode/decode and clocked
// delivery stages of the av packages into a runnable Pipeline.
//
// A Pipeline takes frames from a simulated camera or screen, runs them
// through the effect chain and the yuvd encoder, packetizes them as RTP onto
// an in-memory link, then depacketizes, decodes and schedules them on the
// presentation queue for the drawable. Audio follows a parallel path through
// the audio processor and an RTP session.
//
// # Getting Started
//
//	opts := avio.NewOptions()
//	opts.Effects = []string{"grayscale", "brightness=10"}
//	opts.Drawable = myDrawable
//
//	p, err := avio.NewPipeline(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	if err := p.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Run returns once ctx is done and the pipeline has drained. Device control
// goes through the orchestrator while the pipeline runs:
//
//	p.Orchestrator().SetTorch(capture.TorchOn)
//	p.Orchestrator().RampZoom(2, 1)
//
// # Metrics
//
// Every stage is registered with the pipeline's av.MetricsAggregator under
// the Stage* names. Reports arrive every Options.MetricsInterval:
//
//	p.Metrics().OnReport(func(r av.Report) {
//	    fmt.Println(r.Delta(avio.StagePresentation, "delivered"))
//	})
//
// When Options.Adaptive is set the same reports drive an av.BitrateAdapter
// that lowers the video bitrate while frames are being dropped or delivered
// late, and raises it again once the pipeline keeps up.
//
// # Packages
//
//   - [github.com/opd-ai/avio/av]: metrics aggregator and bitrate adapter
//   - [github.com/opd-ai/avio/av/capture]: capture orchestrator and simulated devices
//   - [github.com/opd-ai/avio/av/clock]: presentation-time scheduling
//   - [github.com/opd-ai/avio/av/codec]: encoder and decoder stages
//   - [github.com/opd-ai/avio/av/rtp]: audio RTP sessions and the packet link
//   - [github.com/opd-ai/avio/config]: viper-backed configuration
package avio
