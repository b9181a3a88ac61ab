package codec

import (
	"fmt"
	"strings"
	"time"

	"github.com/opd-ai/avio/av/media"
	"golang.org/x/time/rate"
)

// DropPolicy selects which unit is discarded when a stage queue is full.
type DropPolicy int

const (
	// DropOldest discards the oldest queued unit to make room, bounding latency.
	DropOldest DropPolicy = iota
	// DropNewest discards the unit being submitted.
	DropNewest
)

// String returns the policy name.
func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	default:
		return fmt.Sprintf("DropPolicy(%d)", int(p))
	}
}

// ParseDropPolicy parses "drop-oldest"/"oldest" or "drop-newest"/"newest".
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop-oldest", "oldest", "":
		return DropOldest, nil
	case "drop-newest", "newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("unknown drop policy %q", s)
	}
}

// offer enqueues s without blocking. It reports whether a unit was dropped.
func offer(queue chan *media.Sample, s *media.Sample, policy DropPolicy) bool {
	select {
	case queue <- s:
		return false
	default:
	}

	if policy == DropNewest {
		return true
	}

	// Make room by discarding the head; another producer may win the slot,
	// in which case s itself is dropped.
	select {
	case <-queue:
	default:
	}
	select {
	case queue <- s:
	default:
	}
	return true
}

// dropWarnInterval bounds drop warnings to one per interval per stage.
const dropWarnInterval = time.Second

func newDropLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(dropWarnInterval), 1)
}
