package media

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// ParseH264Format builds a descriptor from H.264 parameter sets. The SPS is
// parsed to recover the coded picture size.
func ParseH264Format(sps, pps []byte) (*FormatDescriptor, error) {
	if len(sps) == 0 {
		return nil, ErrMissingSPS
	}

	var parsed h264.SPS
	if err := parsed.Unmarshal(sps); err != nil {
		return nil, fmt.Errorf("%w: parse SPS: %v", ErrInvalidFormat, err)
	}

	fd := NewVideoFormat(CodecH264, parsed.Width(), parsed.Height())
	fd.SPS = append([]byte(nil), sps...)
	fd.PPS = append([]byte(nil), pps...)
	return fd, nil
}

// SplitParameterSets returns the first SPS and PPS found in an Annex-B
// access unit. Either may be nil.
func SplitParameterSets(annexB []byte) (sps, pps []byte, err error) {
	var au h264.AnnexB
	if err := au.Unmarshal(annexB); err != nil {
		return nil, nil, fmt.Errorf("unmarshal annex-b: %w", err)
	}

	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			if sps == nil {
				sps = nalu
			}
		case h264.NALUTypePPS:
			if pps == nil {
				pps = nalu
			}
		}
	}
	return sps, pps, nil
}

// H264DependsOnOthers reports whether an Annex-B access unit needs earlier
// pictures to decode, that is whether it carries no IDR slice.
func H264DependsOnOthers(annexB []byte) (bool, error) {
	var au h264.AnnexB
	if err := au.Unmarshal(annexB); err != nil {
		return true, fmt.Errorf("unmarshal annex-b: %w", err)
	}

	for _, nalu := range au {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
			return false, nil
		}
	}
	return true, nil
}
