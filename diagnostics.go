// diagnostics.go: Local self-logging channel for writer failures
//
// Copyright (c) 2025 AGILira
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package newrelicwriter

import (
	"fmt"
	"log/slog"
	"os"
)

// DiagnosticSink receives failures from every stage of the pipeline.
// Implementations must not panic and must not route back into the writer.
type DiagnosticSink interface {
	Report(msg string, err error)
	Debug(msg string, args ...any)
}

// SlogSink writes diagnostics to a slog.Logger.
type SlogSink struct {
	Logger *slog.Logger
}

// NewSlogSink returns a sink logging text to stderr at the given level.
func NewSlogSink(level slog.Level) *SlogSink {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &SlogSink{Logger: slog.New(handler).With("component", "iris-writer-newrelic")}
}

func (s *SlogSink) Report(msg string, err error) {
	s.Logger.Error(msg, "error", err)
}

func (s *SlogSink) Debug(msg string, args ...any) {
	s.Logger.Debug(msg, args...)
}

// FuncSink adapts an OnError style callback.
type FuncSink func(error)

func (f FuncSink) Report(msg string, err error) {
	if err == nil {
		f(fmt.Errorf("%s", msg))
		return
	}
	f(fmt.Errorf("%s: %w", msg, err))
}

func (f FuncSink) Debug(string, ...any) {}

type multiSink []DiagnosticSink

func (m multiSink) Report(msg string, err error) {
	for _, s := range m {
		s.Report(msg, err)
	}
}

func (m multiSink) Debug(msg string, args ...any) {
	for _, s := range m {
		s.Debug(msg, args...)
	}
}

// safeSink shields the pipeline from a sink that panics.
type safeSink struct {
	next DiagnosticSink
}

func guardSink(s DiagnosticSink) DiagnosticSink {
	if s == nil {
		return safeSink{next: multiSink(nil)}
	}
	if g, ok := s.(safeSink); ok {
		return g
	}
	return safeSink{next: s}
}

func (s safeSink) Report(msg string, err error) {
	defer func() { _ = recover() }()
	s.next.Report(msg, err)
}

func (s safeSink) Debug(msg string, args ...any) {
	defer func() { _ = recover() }()
	s.next.Debug(msg, args...)
}
