// formatter.go: Batch document construction for the New Relic Logs API
//
// Copyright (c) 2025 AGILira
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package newrelicwriter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BatchDocument is one entry of the top-level array posted to the Logs API.
type BatchDocument struct {
	Common Common     `json:"common"`
	Logs   []LogEntry `json:"logs"`
}

// Common holds attributes shared by every log in the batch.
type Common struct {
	Attributes CommonAttributes `json:"attributes"`
}

// CommonAttributes identifies the emitting host and application.
type CommonAttributes struct {
	Hostname    string `json:"hostname"`
	Application string `json:"application"`
}

// LogEntry represents a single log in a batch.
type LogEntry struct {
	Timestamp  int64             `json:"timestamp"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes"`
}

// Formatter turns buffered events into a BatchDocument.
type Formatter struct {
	Hostname    string
	Application string

	// ExcludeHostProperties drops properties whose key starts with one of
	// ExcludePrefixes (case-insensitive).
	ExcludeHostProperties bool
	ExcludePrefixes       []string

	Sink DiagnosticSink
}

// Format builds the batch for events, preserving their order. Events that
// cannot be formatted are dropped and reported; the rest of the batch is
// still produced.
func (f *Formatter) Format(events []*Event) BatchDocument {
	sink := guardSink(f.Sink)
	doc := BatchDocument{
		Common: Common{Attributes: CommonAttributes{
			Hostname:    f.Hostname,
			Application: f.Application,
		}},
		Logs: make([]LogEntry, 0, len(events)),
	}

	for i, ev := range events {
		entry, err := f.formatEvent(ev)
		if err != nil {
			sink.Report(fmt.Sprintf("failed to format event %d", i), err)
			continue
		}
		doc.Logs = append(doc.Logs, entry)
	}
	return doc
}

// Marshal serializes doc in the array-of-batches shape the API expects.
func (f *Formatter) Marshal(doc BatchDocument) ([]byte, error) {
	payload, err := json.Marshal([]BatchDocument{doc})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}
	return payload, nil
}

func (f *Formatter) formatEvent(ev *Event) (entry LogEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedEvent, r)
		}
	}()

	if ev == nil {
		return LogEntry{}, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}
	if !validLevel(ev.Level) {
		return LogEntry{}, fmt.Errorf("%w: %w: %d", ErrMalformedEvent, ErrInvalidLevel, ev.Level)
	}

	stack := ""
	if ev.Exception != nil {
		stack = ev.Exception.StackTrace
	}

	attrs := map[string]string{
		"level":       ev.Level.String(),
		"logger":      ev.Logger,
		"thread_id":   ev.ThreadID,
		"stack_trace": stack,
	}

	var metadata any
	hasMetadata := false
	for _, p := range ev.Properties {
		if strings.EqualFold(p.Key, LinkingMetadataKey) {
			metadata, hasMetadata = p.Value, true
			continue
		}
		if _, base := baseAttributes[p.Key]; base {
			continue
		}
		if f.ExcludeHostProperties && f.excluded(p.Key) {
			continue
		}
		s, _ := p.Value.(string)
		attrs[p.Key] = s
	}

	if hasMetadata {
		unrollLinkingMetadata(attrs, metadata)
	}

	return LogEntry{
		Timestamp:  unixMillis(ev.Timestamp),
		Message:    ev.Message,
		Attributes: attrs,
	}, nil
}

// baseAttributes are set from the event itself; properties never replace
// them. Linking metadata still may.
var baseAttributes = map[string]struct{}{
	"level":       {},
	"logger":      {},
	"thread_id":   {},
	"stack_trace": {},
}

func (f *Formatter) excluded(key string) bool {
	lower := strings.ToLower(key)
	for _, prefix := range f.ExcludePrefixes {
		if prefix != "" && strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// unrollLinkingMetadata copies metadata pairs into attrs, overwriting.
// Values of any other type are ignored.
func unrollLinkingMetadata(attrs map[string]string, metadata any) {
	var pairs map[string]string
	switch md := metadata.(type) {
	case LinkingMetadata:
		pairs = md
	case map[string]string:
		pairs = md
	default:
		return
	}
	for k, v := range pairs {
		attrs[k] = v
	}
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
