// writer.go: New Relic Logs writer for Iris
//
// Copyright (c) 2025 AGILira
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package newrelicwriter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/agilira/iris"
	"github.com/google/uuid"
)

// Writer implements iris.SyncWriter for the New Relic Logs API
type Writer struct {
	config    atomic.Pointer[Config]
	evaluator atomic.Pointer[TriggerEvaluator]
	enricher  *Enricher
	transport *Transport
	sink      DiagnosticSink
	metrics   *Metrics
	clock     func() time.Time

	buffer []*Event
	mutex  sync.Mutex
	closed bool
}

// New creates a new New Relic writer with the given configuration.
// An incomplete configuration is not an error: the writer is created
// disabled and starts shipping once UpdateConfig supplies the missing values.
func New(config Config) (*Writer, error) {
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	clock := config.Clock
	if clock == nil {
		clock = func() time.Time {
			return time.Unix(0, timecache.CachedTimeNano()).UTC()
		}
	}

	sinks := multiSink{}
	if config.Diagnostics != nil {
		sinks = append(sinks, config.Diagnostics)
	} else {
		sinks = append(sinks, NewSlogSink(slog.LevelInfo))
	}
	if config.OnError != nil {
		sinks = append(sinks, FuncSink(config.OnError))
	}
	sink := guardSink(sinks)

	evaluator, err := NewTriggerEvaluator(*config.Threshold, *config.Interval, clock())
	if err != nil {
		return nil, err
	}

	writer := &Writer{
		enricher:  &Enricher{Provider: config.MetadataProvider, Sink: sink},
		transport: NewTransport(config.HTTPClient, config.Timeout, sink, config.Metrics),
		sink:      sink,
		metrics:   config.Metrics,
		clock:     clock,
		buffer:    make([]*Event, 0, config.BatchSize),
	}
	writer.config.Store(&config)
	writer.evaluator.Store(evaluator)
	return writer, nil
}

// WriteRecord implements iris.SyncWriter. It never returns an error: every
// failure is reported to the diagnostic sink instead.
func (w *Writer) WriteRecord(record *iris.Record) error {
	if record == nil {
		return nil
	}
	return w.WriteEvent(w.eventFromRecord(record))
}

// eventFromRecord copies everything the event needs out of record, which
// iris reuses once WriteRecord returns.
func (w *Writer) eventFromRecord(record *iris.Record) *Event {
	ev := NewEvent(record.Level, record.Msg, w.clock())
	ev.Logger = record.Logger
	if ev.Logger == "" {
		ev.Logger = w.config.Load().LoggerName
	}
	if record.Stack != "" {
		ev.Exception = &ExceptionInfo{StackTrace: record.Stack}
	}

	n := record.FieldCount()
	if n > 0 || record.Caller != "" {
		ev.Properties = make([]Property, 0, n+1)
	}
	if record.Caller != "" {
		ev.Properties = append(ev.Properties, Property{Key: CallerPropertyKey, Value: record.Caller})
	}
	for i := 0; i < n; i++ {
		field := record.GetField(i)
		ev.Properties = append(ev.Properties, Property{Key: field.Key(), Value: fieldValue(field)})
	}
	return ev
}

// fieldValue unpacks an iris field into a plain Go value. Byte slices are
// copied; non-string values are later coerced by the formatter.
func fieldValue(f iris.Field) any {
	switch {
	case f.IsString():
		return f.StringValue()
	case f.IsInt():
		return f.IntValue()
	case f.IsUint():
		return f.UintValue()
	case f.IsFloat():
		return f.FloatValue()
	case f.IsBool():
		return f.BoolValue()
	case f.IsDuration():
		return f.DurationValue()
	case f.IsTime():
		return f.TimeValue()
	case f.IsBytes():
		return append([]byte(nil), f.BytesValue()...)
	default:
		return f.Obj
	}
}

// WriteEvent appends a fully populated event. Like WriteRecord it always
// returns nil.
func (w *Writer) WriteEvent(ev *Event) error {
	defer func() {
		if r := recover(); r != nil {
			w.sink.Report("failed to append log event", fmt.Errorf("panic: %v", r))
		}
	}()

	config := w.config.Load()
	if ev == nil || config.Disabled() {
		return nil
	}

	ev = w.enricher.Enrich(ev)

	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		w.metrics.eventsDropped("closed", 1)
		return nil
	}
	w.buffer = append(w.buffer, ev)
	full := len(w.buffer) >= config.BatchSize
	w.mutex.Unlock()
	w.metrics.eventAccepted()

	evaluator := w.evaluator.Load()
	trigger, err := evaluator.ShouldFlush(ev.Level, w.clock())
	if err != nil {
		w.sink.Report("failed to evaluate flush trigger", err)
	}

	switch {
	case trigger && ev.Level >= evaluator.Threshold():
		w.flush("level")
	case trigger:
		w.flush("interval")
	case full:
		w.flush("full")
	}
	return nil
}

// Flush sends whatever is buffered without waiting for delivery.
func (w *Writer) Flush() {
	w.flush("manual")
}

// Close flushes remaining logs and waits, bounded by the configured
// timeout, for in-flight batches to finish.
func (w *Writer) Close() error {
	w.mutex.Lock()
	w.closed = true
	w.mutex.Unlock()

	w.flush("close")

	ctx, cancel := context.WithTimeout(context.Background(), w.config.Load().Timeout)
	defer cancel()
	if err := w.transport.Wait(ctx); err != nil {
		return fmt.Errorf("timed out waiting for in-flight batches: %w", err)
	}
	return nil
}

// UpdateConfig replaces the endpoint, credentials, attributes and trigger
// settings. Sinks, metrics, HTTP client and clock are fixed at New.
func (w *Writer) UpdateConfig(config Config) error {
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return err
	}

	current := w.config.Load()
	config.Diagnostics = current.Diagnostics
	config.OnError = current.OnError
	config.Metrics = current.Metrics
	config.HTTPClient = current.HTTPClient
	config.MetadataProvider = current.MetadataProvider
	config.Clock = current.Clock

	evaluator := w.evaluator.Load()
	if evaluator.Threshold() != *config.Threshold || evaluator.Interval() != *config.Interval {
		next, err := NewTriggerEvaluator(*config.Threshold, *config.Interval, w.clock())
		if err != nil {
			return err
		}
		w.evaluator.Store(next)
	}

	w.config.Store(&config)
	return nil
}

// Config returns a copy of the active configuration.
func (w *Writer) Config() Config {
	return *w.config.Load()
}

// Disabled reports whether the active configuration ships nothing.
func (w *Writer) Disabled() bool {
	return w.config.Load().Disabled()
}

func (w *Writer) flush(trigger string) {
	w.mutex.Lock()
	if len(w.buffer) == 0 {
		w.mutex.Unlock()
		return
	}

	events := w.buffer
	w.buffer = make([]*Event, 0, cap(events))
	// reserved under the mutex so Close, which sets closed under the same
	// mutex and drains the buffer before waiting, never races an Add
	w.transport.reserve()
	w.mutex.Unlock()

	w.sendBuffer(events, trigger)
}

// sendBuffer formats and dispatches events on a reservation already held.
func (w *Writer) sendBuffer(events []*Event, trigger string) {
	dispatched := false
	defer func() {
		if !dispatched {
			w.transport.release()
		}
	}()

	config := w.config.Load()
	if config.Disabled() {
		w.metrics.eventsDropped("disabled", len(events))
		return
	}

	formatter := &Formatter{
		Hostname:              config.Hostname,
		Application:           config.Application,
		ExcludeHostProperties: config.ExcludeHostProperties,
		ExcludePrefixes:       config.ExcludePrefixes,
		Sink:                  w.sink,
	}

	doc := formatter.Format(events)
	w.metrics.eventsDropped("malformed", len(events)-len(doc.Logs))

	payload, err := formatter.Marshal(doc)
	if err != nil {
		w.sink.Report("failed to serialize batch", err)
		w.metrics.eventsDropped("marshal", len(doc.Logs))
		return
	}

	w.metrics.flushed(trigger)
	dispatched = true
	w.transport.dispatch(Batch{
		ID:      uuid.New(),
		Target:  config.target(),
		Payload: payload,
		Events:  len(doc.Logs),
	})
}
