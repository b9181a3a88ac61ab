package capture

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// Device setters are fail-soft: configuration problems are logged with a
// single warning and the previous state is kept. Without an attached camera
// the requested value is stored and applied on the next attach where that
// makes sense.

// withDeviceLock runs fn with the device configuration lock held and
// reports whether it ran. Must be called with mu held.
func (o *Orchestrator) withDeviceLock(function string, fn func(d Device)) bool {
	d := o.device
	if d == nil {
		return false
	}
	if err := d.LockForConfiguration(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   function,
			"session_id": o.id,
			"device":     d.ID(),
			"error":      err.Error(),
		}).Warn("Device configuration lock failed")
		return false
	}
	defer d.UnlockForConfiguration()

	fn(d)
	return true
}

func (o *Orchestrator) warnUnsupported(function string, fields logrus.Fields, msg string) {
	f := logrus.Fields{
		"function":   function,
		"session_id": o.id,
	}
	if o.device != nil {
		f["device"] = o.device.ID()
	}
	for k, v := range fields {
		f[k] = v
	}
	logrus.WithFields(f).Warn(msg)
}

// SetTorch sets the torch mode.
func (o *Orchestrator) SetTorch(mode TorchMode) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if mode == o.state.Torch {
		return
	}
	if o.device == nil {
		o.state.Torch = mode
		return
	}
	if !torchSupported(o.device, mode) {
		o.warnUnsupported("Orchestrator.SetTorch", logrus.Fields{"mode": mode.String()}, "Torch mode not supported")
		return
	}
	if o.withDeviceLock("Orchestrator.SetTorch", func(d Device) { d.SetTorchMode(mode) }) {
		o.state.Torch = mode
	}
}

func torchSupported(d Device, mode TorchMode) bool {
	if mode == TorchOff {
		return true
	}
	return d.HasTorch() && d.IsTorchModeSupported(mode)
}

// reassertTorchLocked applies the torch state to the current device.
// Capture reconfiguration turns the light off on some devices.
func (o *Orchestrator) reassertTorchLocked() {
	if o.state.Torch == TorchOff || o.device == nil {
		return
	}
	mode := o.state.Torch
	if !torchSupported(o.device, mode) {
		o.warnUnsupported("Orchestrator.reassertTorch", logrus.Fields{"mode": mode.String()}, "Torch mode not supported, torch off")
		o.state.Torch = TorchOff
		return
	}
	o.withDeviceLock("Orchestrator.reassertTorch", func(d Device) { d.SetTorchMode(mode) })
}

// SetContinuousAutofocus switches between continuous and single autofocus.
func (o *Orchestrator) SetContinuousAutofocus(on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if on == o.state.ContinuousAutofocus {
		return
	}
	if o.device == nil {
		o.state.ContinuousAutofocus = on
		return
	}
	mode := focusMode(on)
	if !o.device.IsFocusModeSupported(mode) {
		o.warnUnsupported("Orchestrator.SetContinuousAutofocus", logrus.Fields{"continuous": on}, "Focus mode not supported")
		return
	}
	if o.withDeviceLock("Orchestrator.SetContinuousAutofocus", func(d Device) { d.SetFocusMode(mode) }) {
		o.state.ContinuousAutofocus = on
	}
}

// SetFocusPointOfInterest focuses on p, keeping the current focus mode.
func (o *Orchestrator) SetFocusPointOfInterest(p Point) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !p.Valid() {
		o.warnUnsupported("Orchestrator.SetFocusPointOfInterest", logrus.Fields{"x": p.X, "y": p.Y}, "Focus point outside the unit square")
		return
	}
	if p == o.state.FocusPoint {
		return
	}
	if o.device == nil {
		o.state.FocusPoint = p
		return
	}
	if !o.device.IsFocusPointOfInterestSupported() {
		o.warnUnsupported("Orchestrator.SetFocusPointOfInterest", nil, "Focus point of interest not supported")
		return
	}
	mode := focusMode(o.state.ContinuousAutofocus)
	if o.withDeviceLock("Orchestrator.SetFocusPointOfInterest", func(d Device) {
		d.SetFocusPointOfInterest(p)
		if d.IsFocusModeSupported(mode) {
			d.SetFocusMode(mode)
		}
	}) {
		o.state.FocusPoint = p
	}
}

func focusMode(continuous bool) FocusMode {
	if continuous {
		return FocusContinuous
	}
	return FocusAuto
}

// SetContinuousExposure switches between continuous and single auto
// exposure.
func (o *Orchestrator) SetContinuousExposure(on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if on == o.state.ContinuousExposure {
		return
	}
	if o.device == nil {
		o.state.ContinuousExposure = on
		return
	}
	mode := exposureMode(on)
	if !o.device.IsExposureModeSupported(mode) {
		o.warnUnsupported("Orchestrator.SetContinuousExposure", logrus.Fields{"continuous": on}, "Exposure mode not supported")
		return
	}
	if o.withDeviceLock("Orchestrator.SetContinuousExposure", func(d Device) { d.SetExposureMode(mode) }) {
		o.state.ContinuousExposure = on
	}
}

// SetExposurePointOfInterest meters exposure at p.
func (o *Orchestrator) SetExposurePointOfInterest(p Point) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !p.Valid() {
		o.warnUnsupported("Orchestrator.SetExposurePointOfInterest", logrus.Fields{"x": p.X, "y": p.Y}, "Exposure point outside the unit square")
		return
	}
	if p == o.state.ExposurePoint {
		return
	}
	if o.device == nil {
		o.state.ExposurePoint = p
		return
	}
	if !o.device.IsExposurePointOfInterestSupported() {
		o.warnUnsupported("Orchestrator.SetExposurePointOfInterest", nil, "Exposure point of interest not supported")
		return
	}
	mode := exposureMode(o.state.ContinuousExposure)
	if o.withDeviceLock("Orchestrator.SetExposurePointOfInterest", func(d Device) {
		d.SetExposurePointOfInterest(p)
		if d.IsExposureModeSupported(mode) {
			d.SetExposureMode(mode)
		}
	}) {
		o.state.ExposurePoint = p
	}
}

func exposureMode(continuous bool) ExposureMode {
	if continuous {
		return ExposureContinuous
	}
	return ExposureAuto
}

// RampZoom moves the zoom factor towards factor at rate, in powers of two
// per second. The factor is clamped to [1, device max].
func (o *Orchestrator) RampZoom(factor, rate float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if rate <= 0 || math.IsNaN(rate) || math.IsNaN(factor) {
		o.warnUnsupported("Orchestrator.RampZoom", logrus.Fields{"factor": factor, "rate": rate}, "Zoom rate must be positive")
		return
	}
	if o.device == nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Orchestrator.RampZoom",
			"session_id": o.id,
		}).Debug("No camera attached, zoom ignored")
		return
	}

	maxZoom := math.Max(1, o.device.MaxZoomFactor())
	clamped := math.Min(math.Max(factor, 1), maxZoom)
	if clamped == o.state.Zoom {
		return
	}
	if o.withDeviceLock("Orchestrator.RampZoom", func(d Device) { d.RampZoom(clamped, rate) }) {
		o.state.Zoom = clamped
	}
}

// SetFrameRate requests a capture rate. The nearest rate the device
// supports is applied and reported by State.
func (o *Orchestrator) SetFrameRate(fps float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		o.warnUnsupported("Orchestrator.SetFrameRate", logrus.Fields{"fps": fps}, "Frame rate must be positive")
		return
	}
	o.targetFPS = fps
	if o.device != nil {
		o.applyFrameRateLocked(fps)
	}
}

func (o *Orchestrator) applyFrameRateLocked(fps float64) {
	if o.device == nil {
		return
	}
	applied, ok := NearestFrameRate(o.device.FrameRateRanges(), fps)
	if !ok {
		o.warnUnsupported("Orchestrator.SetFrameRate", logrus.Fields{"fps": fps}, "Device reports no frame rate ranges")
		return
	}
	if applied == o.state.FrameRate {
		return
	}

	duration := time.Duration(float64(time.Second) / applied)
	if o.withDeviceLock("Orchestrator.SetFrameRate", func(d Device) { d.SetFrameDurations(duration, duration) }) {
		o.state.FrameRate = applied
		o.retimeEncoder(applied)

		logrus.WithFields(logrus.Fields{
			"function":   "Orchestrator.SetFrameRate",
			"session_id": o.id,
			"requested":  fps,
			"applied":    applied,
		}).Info("Frame rate applied")
	}
}

// NearestFrameRate returns the supported rate closest to fps across
// ranges. Ties go to the earlier range.
func NearestFrameRate(ranges []FrameRateRange, fps float64) (float64, bool) {
	best, bestDist := 0.0, math.Inf(1)
	for _, r := range ranges {
		if r.Max <= 0 || r.Min > r.Max {
			continue
		}
		candidate := math.Min(math.Max(fps, r.Min), r.Max)
		if dist := math.Abs(candidate - fps); dist < bestDist {
			best, bestDist = candidate, dist
		}
	}
	return best, !math.IsInf(bestDist, 1)
}

// SetOrientation rotates the capture output and the drawable. The torch is
// re-asserted when it is on.
func (o *Orchestrator) SetOrientation(orientation Orientation) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !orientation.Valid() {
		o.warnUnsupported("Orchestrator.SetOrientation", logrus.Fields{"orientation": orientation.String()}, "Unknown orientation")
		return
	}
	if orientation == o.state.Orientation {
		return
	}

	o.state.Orientation = orientation
	o.session.SetVideoOrientation(orientation)
	if d := o.currentDrawable(); d != nil {
		d.SetOrientation(orientation)
	}
	o.reassertTorchLocked()

	logrus.WithFields(logrus.Fields{
		"function":    "Orchestrator.SetOrientation",
		"session_id":  o.id,
		"orientation": orientation.String(),
	}).Debug("Orientation changed")
}
