// transport.go: Fire-and-forget delivery to the New Relic Logs API
//
// Copyright (c) 2025 AGILira
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package newrelicwriter

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	headerLicenseKey = "X-License-Key"
	headerInsertKey  = "X-Insert-Key"
)

// Target is the endpoint and credentials a batch is delivered with. It is
// captured from the configuration at flush time.
type Target struct {
	URL        string
	LicenseKey string
	InsertKey  string
}

// Batch is a serialized, not yet compressed, batch ready for delivery.
type Batch struct {
	ID      uuid.UUID
	Target  Target
	Payload []byte
	Events  int
}

// Transport posts batches to the ingestion endpoint. Each Send runs in its
// own goroutine; there is no queue, no retry and no cap on in-flight sends.
type Transport struct {
	client     *http.Client
	compressor *Compressor
	timeout    time.Duration
	sink       DiagnosticSink
	metrics    *Metrics

	inflight sync.WaitGroup
}

// NewTransport creates a transport. A nil client gets a dedicated client
// with keep-alives disabled and TLS 1.2 as the minimum version.
func NewTransport(client *http.Client, timeout time.Duration, sink DiagnosticSink, metrics *Metrics) *Transport {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:             http.ProxyFromEnvironment,
				DisableKeepAlives: true,
				TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
			},
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Transport{
		client:     client,
		compressor: NewCompressor(DefaultCompressionLevel),
		timeout:    timeout,
		sink:       guardSink(sink),
		metrics:    metrics,
	}
}

// Send delivers b in the background. It returns immediately; the outcome is
// only visible through the diagnostic sink and metrics. Send must not race
// with Wait.
func (t *Transport) Send(b Batch) {
	t.reserve()
	t.dispatch(b)
}

// reserve counts a send before it is dispatched. Every reserve is paired
// with exactly one dispatch or release.
func (t *Transport) reserve() {
	t.inflight.Add(1)
}

// release gives back a reservation that will not be dispatched.
func (t *Transport) release() {
	t.inflight.Done()
}

// dispatch starts the send for a reservation taken with reserve.
func (t *Transport) dispatch(b Batch) {
	t.metrics.sendStarted()

	go func() {
		defer t.inflight.Done()

		start := time.Now()
		status := "accepted"
		size := 0

		defer func() {
			if r := recover(); r != nil {
				status = "failed"
				t.sink.Report("failed to send data to newrelic logs",
					fmt.Errorf("batch %s: panic: %v", b.ID, r))
			}
			t.metrics.sendFinished(status, size, time.Since(start))
		}()

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		body, err := t.compressor.Compress(b.Payload)
		if err != nil {
			status = "failed"
			t.sink.Report("failed to compress batch", fmt.Errorf("batch %s: %w", b.ID, err))
			return
		}
		size = len(body)

		if err := t.deliver(ctx, b.Target, body); err != nil {
			status = "failed"
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				status = "rejected"
			}
			t.sink.Report("failed to send data to newrelic logs", fmt.Errorf("batch %s: %w", b.ID, err))
			return
		}

		t.sink.Debug("sent batch to newrelic logs",
			"batch", b.ID.String(),
			"events", b.Events,
			"bytes", size,
			"elapsed_ms", time.Since(start).Milliseconds())
	}()
}

// Deliver compresses payload and posts it synchronously, once.
func (t *Transport) Deliver(ctx context.Context, target Target, payload []byte) error {
	body, err := t.compressor.Compress(payload)
	if err != nil {
		return err
	}
	return t.deliver(ctx, target, body)
}

func (t *Transport) deliver(ctx context.Context, target Target, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if credentialSet(target.LicenseKey) {
		req.Header.Set(headerLicenseKey, target.LicenseKey)
	} else {
		req.Header.Set(headerInsertKey, target.InsertKey)
	}
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Content-Type", "application/gzip")
	req.Header.Set("Accept", "*/*")
	req.Close = true

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusAccepted {
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

// Wait blocks until all in-flight sends finish or ctx is done.
func (t *Transport) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
