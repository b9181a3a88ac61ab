package av

import (
	"github.com/opd-ai/avio/av/audio"
	"github.com/opd-ai/avio/av/capture"
	"github.com/opd-ai/avio/av/clock"
	"github.com/opd-ai/avio/av/codec"
	"github.com/opd-ai/avio/av/rtp"
)

// EncoderSource reports the counters of an encode stage.
func EncoderSource(e interface{ Stats() codec.EncoderStats }) StatsSource {
	return StatsSourceFunc(func() Counters {
		s := e.Stats()
		return Counters{
			"submitted":    s.Submitted,
			"encoded":      s.Encoded,
			"dropped":      s.Dropped,
			"failed":       s.Failed,
			"reconfigured": s.Reconfigured,
		}
	})
}

// DecoderSource reports the counters of a decode stage.
func DecoderSource(d interface{ Stats() codec.DecoderStats }) StatsSource {
	return StatsSourceFunc(func() Counters {
		s := d.Stats()
		return Counters{
			"submitted":    s.Submitted,
			"decoded":      s.Decoded,
			"dropped":      s.Dropped,
			"malformed":    s.Malformed,
			"renegotiated": s.Renegotiated,
		}
	})
}

// QueueSource reports the counters of a clocked queue. "buffered" is a
// gauge.
func QueueSource(q interface{ Stats() clock.Stats }) StatsSource {
	return StatsSourceFunc(func() Counters {
		s := q.Stats()
		return Counters{
			"enqueued":  s.Enqueued,
			"delivered": s.Delivered,
			"late":      s.Late,
			"skipped":   s.Skipped,
			"discarded": s.Discarded,
			"buffered":  uint64(s.Buffered),
		}
	})
}

// CaptureSource reports the counters of a capture orchestrator.
func CaptureSource(o interface{ Stats() capture.Stats }) StatsSource {
	return StatsSourceFunc(func() Counters {
		s := o.Stats()
		return Counters{
			"captured":        s.Captured,
			"recorded":        s.Recorded,
			"recorder_errors": s.RecorderErrors,
			"effect_errors":   s.EffectErrors,
			"submitted":       s.Submitted,
			"encode_errors":   s.EncodeErrors,
			"resized":         s.Resized,
			"retimed":         s.Retimed,
			"previewed":       s.Previewed,
			"decoded":         s.Decoded,
			"late":            s.Late,
			"presented":       s.Presented,
		}
	})
}

// AudioSource reports the counters of an audio processor.
func AudioSource(p interface{ Stats() audio.ProcessorStats }) StatsSource {
	return StatsSourceFunc(func() Counters {
		s := p.Stats()
		return Counters{
			"blocks":  s.Blocks,
			"dropped": s.Dropped,
			"errors":  s.Errors,
		}
	})
}

// LinkSource reports the counters of a packet link.
func LinkSource(l interface{ Stats() rtp.LinkStats }) StatsSource {
	return StatsSourceFunc(func() Counters {
		s := l.Stats()
		return Counters{
			"written":    s.Written,
			"delivered":  s.Delivered,
			"dropped":    s.Dropped,
			"unroutable": s.Unroutable,
			"malformed":  s.Malformed,
			"errors":     s.Errors,
		}
	})
}

// SessionSource reports the counters of an audio RTP session. "jitter_us"
// and "bandwidth_bps" are gauges.
func SessionSource(s interface{ GetStatistics() rtp.Statistics }) StatsSource {
	return StatsSourceFunc(func() Counters {
		st := s.GetStatistics()
		return Counters{
			"packets_sent":     st.PacketsSent,
			"bytes_sent":       st.BytesSent,
			"packets_received": st.PacketsReceived,
			"bytes_received":   st.BytesReceived,
			"packets_lost":     st.PacketsLost,
			"packets_late":     st.PacketsLate,
			"send_errors":      st.SendErrors,
			"jitter_us":        uint64(st.Jitter.Microseconds()),
			"bandwidth_bps":    st.Bandwidth,
		}
	})
}
