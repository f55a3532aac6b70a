// event.go: Log event model consumed by the New Relic writer
//
// Copyright (c) 2025 AGILira
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package newrelicwriter

import (
	"strings"
	"time"

	"github.com/agilira/iris"
)

// LinkingMetadataKey is the property under which linking metadata is stored
// on an event at append time. It is never shipped as a plain attribute.
const LinkingMetadataKey = "newrelic.linkingmetadata"

// CallerPropertyKey carries iris caller information. It falls under the
// default "iris" exclusion prefix.
const CallerPropertyKey = "iris.caller"

// LinkingMetadata holds trace and entity identifiers supplied by an agent.
type LinkingMetadata map[string]string

// Property is a single custom key/value pair attached to an event.
type Property struct {
	Key   string
	Value any
}

// ExceptionInfo describes an error captured with an event.
type ExceptionInfo struct {
	Message    string
	StackTrace string
}

// Event is a buffered log event. Events are treated as read-only once
// handed to the writer.
type Event struct {
	Timestamp  time.Time
	Level      iris.Level
	Message    string
	Logger     string
	ThreadID   string
	Exception  *ExceptionInfo
	Properties []Property
}

// NewEvent creates an event stamped with the given time in UTC.
func NewEvent(level iris.Level, msg string, ts time.Time) *Event {
	return &Event{
		Timestamp: ts.UTC(),
		Level:     level,
		Message:   msg,
	}
}

// Property returns the value stored under key. Keys compare case-insensitively.
func (e *Event) Property(key string) (any, bool) {
	for _, p := range e.Properties {
		if strings.EqualFold(p.Key, key) {
			return p.Value, true
		}
	}
	return nil, false
}

// SetProperty stores value under key, replacing an existing entry.
func (e *Event) SetProperty(key string, value any) {
	for i := range e.Properties {
		if strings.EqualFold(e.Properties[i].Key, key) {
			e.Properties[i].Value = value
			return
		}
	}
	e.Properties = append(e.Properties, Property{Key: key, Value: value})
}

// clone returns a shallow copy with its own property slice, so enrichment
// never mutates an event the caller still holds.
func (e *Event) clone() *Event {
	c := *e
	if len(e.Properties) > 0 {
		c.Properties = make([]Property, len(e.Properties))
		copy(c.Properties, e.Properties)
	}
	return &c
}

func validLevel(level iris.Level) bool {
	return level >= iris.Debug && level <= iris.Fatal
}
