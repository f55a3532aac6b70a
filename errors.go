// errors.go: Error values reported by the New Relic writer
//
// Copyright (c) 2025 AGILira
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package newrelicwriter

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLevel is returned for a severity outside the iris level range.
	ErrInvalidLevel = errors.New("invalid log level")

	// ErrInvalidConfig is returned by New, UpdateConfig and ParseConfig for
	// values that can never be valid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMalformedEvent marks an event dropped from a batch while formatting.
	ErrMalformedEvent = errors.New("malformed log event")

	// ErrMetadataUnavailable wraps failures of the linking metadata provider.
	ErrMetadataUnavailable = errors.New("linking metadata unavailable")
)

// StatusError is returned when the ingestion endpoint answers with anything
// other than 202 Accepted.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("newrelic logs API error: %s", e.Status)
	}
	return fmt.Sprintf("newrelic logs API error: status %d", e.StatusCode)
}
