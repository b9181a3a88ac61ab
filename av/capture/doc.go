// Package capture coordinates capture devices with the media pipeline.
//
// An Orchestrator owns a Session and at most one input, chosen with a
// tagged CaptureSource:
//
//	orch := capture.NewOrchestrator(session, capture.NewConfig())
//	err := orch.AttachInput(capture.CameraSource(device))
//
// Camera swaps happen inside one configuration transaction: the old output
// and input are removed before the new ones are added. Screen capture and
// camera capture are mutually exclusive.
//
// Device setters (torch, focus, exposure, zoom, frame rate, orientation)
// take the device configuration lock and fail soft: an unsupported request
// logs one warning and keeps the previous state.
//
// Captured samples go to the Recorder untouched, then video runs through
// the effect chain and both kinds are handed to their SampleEncoder.
// Decoded video comes back through DecodedSink, is paced by a
// clock.ClockedQueue and drawn on the Drawable.
//
// SimDevice, MemorySession and SimScreen are in-memory implementations of
// the device interfaces for tests and demos.
package capture
