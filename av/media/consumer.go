package media

// FrameConsumer receives samples from an upstream stage.
type FrameConsumer interface {
	ConsumeSample(s *Sample)
}

// FrameConsumerFunc adapts a function to FrameConsumer.
type FrameConsumerFunc func(s *Sample)

// ConsumeSample calls f(s).
func (f FrameConsumerFunc) ConsumeSample(s *Sample) { f(s) }

// Discard is a FrameConsumer that drops every sample.
var Discard FrameConsumer = FrameConsumerFunc(func(*Sample) {})
