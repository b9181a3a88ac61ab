// Package clock implements the presentation scheduler of the playback path.
//
// A ClockedQueue buffers decoded samples, sorts them by presentation
// timestamp and releases them to a consumer when the wall clock reaches each
// sample's ready-at time:
//
//	readyAt = anchorWall + Latency + (pts - anchorPTS)
//
// The anchor is taken from the first enqueued sample. Samples are delivered
// strictly in timestamp order and at most once. A sample whose timestamp is
// not after the last delivered one is rejected as late.
//
// # States
//
//	Idle → Running → Draining → Stopped
//
// The first Enqueue moves Idle to Running. Drain stops intake; with
// FlushOnStop the remaining samples are still delivered on schedule,
// otherwise they are discarded and the queue stops at once.
//
// # Head Stalls
//
// When sample durations are known, a gap between the last delivered sample
// and the head means an earlier sample is still missing. The head is held
// for up to MaxHeadWait past its ready-at time before the gap is skipped.
//
// # Driving The Queue
//
// Start runs a ticker-driven goroutine that calls Poll. Tests call Poll
// directly with a mock TimeProvider for deterministic scheduling.
package clock
