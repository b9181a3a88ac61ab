// Package av is the root of the media pipeline packages and provides the
// pipeline-wide metrics aggregator.
//
// # Sub-Packages
//
//   - av/media: Sample, format descriptors, video frames and audio blocks
//   - av/video: effect chain, scaler, yuvd codec backend, RTP adapter, test pattern
//   - av/audio: PCM and Opus decoder backends, resampler, audio processor
//   - av/codec: asynchronous Encoder and Decoder stages and the codec registry
//   - av/clock: ClockedQueue, presentation-time scheduling
//   - av/capture: capture Orchestrator, device and session model
//
// # Metrics
//
// Every stage keeps its own counters. A MetricsAggregator polls the
// registered stages at a fixed interval and publishes a Report with the
// totals and the change since the previous report:
//
//	agg := av.NewMetricsAggregator(5 * time.Second)
//	_ = agg.Register("encoder", av.EncoderSource(encoder))
//	_ = agg.Register("queue", av.QueueSource(queue))
//	agg.OnReport(func(r av.Report) {
//	    log.Printf("delivered %d frames", r.Delta("queue", "delivered"))
//	})
//	if err := agg.Start(); err != nil {
//	    return err
//	}
//	defer agg.Stop()
//
// Snapshot collects the current totals on demand without waiting for the
// next report.
package av
