// evaluator.go: Level and time based flush triggering
//
// Copyright (c) 2025 AGILira
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package newrelicwriter

import (
	"fmt"
	"sync"
	"time"

	"github.com/agilira/iris"
)

// TriggerEvaluator decides whether the buffer must be flushed now. It fires
// for any event at or above Threshold, or for the first event seen after
// Interval has elapsed since the previous time-based trigger.
type TriggerEvaluator struct {
	threshold iris.Level
	interval  time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewTriggerEvaluator creates an evaluator whose interval window starts at
// start. An interval of zero disables time-based triggering.
func NewTriggerEvaluator(threshold iris.Level, interval time.Duration, start time.Time) (*TriggerEvaluator, error) {
	if !validLevel(threshold) {
		return nil, fmt.Errorf("%w: threshold %d: %w", ErrInvalidConfig, threshold, ErrInvalidLevel)
	}
	if interval < 0 {
		return nil, fmt.Errorf("%w: negative trigger interval %s", ErrInvalidConfig, interval)
	}
	return &TriggerEvaluator{
		threshold: threshold,
		interval:  interval,
		last:      start,
	}, nil
}

// Threshold returns the level that triggers an immediate flush.
func (e *TriggerEvaluator) Threshold() iris.Level { return e.threshold }

// Interval returns the time-based trigger interval.
func (e *TriggerEvaluator) Interval() time.Duration { return e.interval }

// ShouldFlush reports whether an event of the given level, seen at now,
// must flush the buffer.
func (e *TriggerEvaluator) ShouldFlush(level iris.Level, now time.Time) (bool, error) {
	if !validLevel(level) {
		return false, fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}

	if level >= e.threshold {
		return true, nil
	}

	if e.interval == 0 {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if now.Sub(e.last) > e.interval {
		e.last = now
		return true, nil
	}
	return false, nil
}

// lastTrigger returns the instant of the most recent time-based trigger.
func (e *TriggerEvaluator) lastTrigger() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}
