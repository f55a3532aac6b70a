// transport_test.go: Compression and delivery tests for the New Relic writer
//
// Copyright (c) 2025 AGILira
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package newrelicwriter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agilira/iris"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturedRequest is what the mock ingestion endpoint saw.
type capturedRequest struct {
	Method  string
	Header  http.Header
	Payload []byte
}

// mockIngest is a New Relic Logs API stand-in answering with status.
type mockIngest struct {
	*httptest.Server

	mu       sync.Mutex
	requests []capturedRequest
	status   int
	received chan struct{}
}

func newMockIngest(t *testing.T, status int) *mockIngest {
	t.Helper()
	m := &mockIngest{status: status, received: make(chan struct{}, 1024)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payload, err := Decompress(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		m.mu.Lock()
		m.requests = append(m.requests, capturedRequest{Method: r.Method, Header: r.Header.Clone(), Payload: payload})
		m.mu.Unlock()

		w.WriteHeader(m.status)
		m.received <- struct{}{}
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockIngest) Requests() []capturedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]capturedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *mockIngest) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-m.received:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for request %d of %d", i+1, n)
		}
	}
}

func decodeBatches(t *testing.T, payload []byte) []BatchDocument {
	t.Helper()
	var docs []BatchDocument
	require.NoError(t, json.Unmarshal(payload, &docs))
	return docs
}

func TestCompressor_RoundTrip(t *testing.T) {
	c := NewCompressor(DefaultCompressionLevel)
	f := newTestFormatter(nil)

	ev := NewEvent(iris.Error, strings.Repeat("connection reset by peer ", 20), epoch)
	ev.SetProperty(LinkingMetadataKey, LinkingMetadata{"trace.id": "t1"})
	doc := f.Format([]*Event{ev, NewEvent(iris.Info, "ok", epoch)})

	payload, err := f.Marshal(doc)
	require.NoError(t, err)

	body, err := c.Compress(payload)
	require.NoError(t, err)
	assert.Less(t, len(body), len(payload))

	out, err := Decompress(body)
	require.NoError(t, err)
	assert.Equal(t, payload, out)

	docs := decodeBatches(t, out)
	require.Len(t, docs, 1)
	assert.Equal(t, doc, docs[0])
}

func TestCompressor_Concurrent(t *testing.T) {
	c := NewCompressor(99) // falls back to the default level
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := []byte(strings.Repeat(string(rune('a'+i)), 1000))
			body, err := c.Compress(in)
			if !assert.NoError(t, err) {
				return
			}
			out, err := Decompress(body)
			assert.NoError(t, err)
			assert.Equal(t, in, out)
		}(i)
	}
	wg.Wait()
}

func TestDecompress_Invalid(t *testing.T) {
	_, err := Decompress([]byte("not gzip"))
	assert.Error(t, err)
}

func TestTransport_Headers(t *testing.T) {
	tests := []struct {
		name       string
		target     Target
		wantHeader string
		wantValue  string
		absent     string
	}{
		{
			name:       "license key",
			target:     Target{LicenseKey: "lic-123"},
			wantHeader: "X-License-Key",
			wantValue:  "lic-123",
			absent:     "X-Insert-Key",
		},
		{
			name:       "license key wins over insert key",
			target:     Target{LicenseKey: "lic-123", InsertKey: "ins-456"},
			wantHeader: "X-License-Key",
			wantValue:  "lic-123",
			absent:     "X-Insert-Key",
		},
		{
			name:       "insert key",
			target:     Target{InsertKey: "ins-456"},
			wantHeader: "X-Insert-Key",
			wantValue:  "ins-456",
			absent:     "X-License-Key",
		},
		{
			name:       "placeholder license key falls back to insert key",
			target:     Target{LicenseKey: "#{NewRelicLicenseKey}", InsertKey: "ins-456"},
			wantHeader: "X-Insert-Key",
			wantValue:  "ins-456",
			absent:     "X-License-Key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockIngest(t, http.StatusAccepted)
			tr := NewTransport(nil, time.Second, nil, nil)

			tt.target.URL = mock.URL
			require.NoError(t, tr.Deliver(context.Background(), tt.target, []byte(`[]`)))

			reqs := mock.Requests()
			require.Len(t, reqs, 1)
			h := reqs[0].Header
			assert.Equal(t, http.MethodPost, reqs[0].Method)
			assert.Equal(t, tt.wantValue, h.Get(tt.wantHeader))
			assert.Empty(t, h.Get(tt.absent))
			assert.Equal(t, "gzip", h.Get("Content-Encoding"))
			assert.Equal(t, "application/gzip", h.Get("Content-Type"))
			assert.Equal(t, "*/*", h.Get("Accept"))
			assert.Equal(t, []byte(`[]`), reqs[0].Payload)
		})
	}
}

func TestTransport_StatusHandling(t *testing.T) {
	tests := []struct {
		status  int
		wantErr bool
	}{
		{http.StatusAccepted, false},
		{http.StatusOK, true},
		{http.StatusForbidden, true},
		{http.StatusRequestEntityTooLarge, true},
		{http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			mock := newMockIngest(t, tt.status)
			tr := NewTransport(nil, time.Second, nil, nil)

			err := tr.Deliver(context.Background(), Target{URL: mock.URL, InsertKey: "k"}, []byte(`[]`))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Len(t, mock.Requests(), 1, "no retries")
		})
	}
}

func TestTransport_SendIsAsync(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()
	defer close(release)

	sink := &recordingSink{}
	tr := NewTransport(nil, 5*time.Second, sink, nil)

	start := time.Now()
	tr.Send(Batch{ID: uuid.New(), Target: Target{URL: srv.URL, LicenseKey: "k"}, Payload: []byte(`[]`), Events: 0})
	assert.Less(t, time.Since(start), 500*time.Millisecond, "Send must not wait for the endpoint")
}

func TestTransport_SendFailuresReported(t *testing.T) {
	mock := newMockIngest(t, http.StatusForbidden)
	sink := &recordingSink{}
	metrics := NewMetrics("test")
	tr := NewTransport(nil, time.Second, sink, metrics)

	tr.Send(Batch{ID: uuid.New(), Target: Target{URL: mock.URL, LicenseKey: "bad"}, Payload: []byte(`[]`)})
	tr.Send(Batch{ID: uuid.New(), Target: Target{URL: "http://127.0.0.1:1", LicenseKey: "bad"}, Payload: []byte(`[]`)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Wait(ctx))

	reports := sink.Reports()
	require.Len(t, reports, 2)
	var statusErrors int
	for _, r := range reports {
		var statusErr *StatusError
		if errors.As(r.err, &statusErr) {
			statusErrors++
			assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
		}
	}
	assert.Equal(t, 1, statusErrors)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BatchesSent.WithLabelValues("rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BatchesSent.WithLabelValues("failed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.InFlightBatches))
}

func TestTransport_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	sink := &recordingSink{}
	tr := NewTransport(nil, 100*time.Millisecond, sink, nil)
	tr.Send(Batch{ID: uuid.New(), Target: Target{URL: srv.URL, InsertKey: "k"}, Payload: []byte(`[]`)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Wait(ctx))

	reports := sink.Reports()
	require.Len(t, reports, 1)
	require.Error(t, reports[0].err)
	assert.Contains(t, reports[0].err.Error(), "failed to send request")
}

func TestTransport_SuccessDebugLog(t *testing.T) {
	mock := newMockIngest(t, http.StatusAccepted)
	sink := &recordingSink{}
	tr := NewTransport(nil, time.Second, sink, nil)

	tr.Send(Batch{ID: uuid.New(), Target: Target{URL: mock.URL, InsertKey: "k"}, Payload: []byte(`[]`), Events: 2})
	require.NoError(t, tr.Wait(context.Background()))

	assert.Empty(t, sink.Reports())
	assert.Equal(t, []string{"sent batch to newrelic logs"}, sink.Debugs())
}

func TestTransport_ReservationHoldsWait(t *testing.T) {
	tr := NewTransport(nil, time.Second, &recordingSink{}, nil)
	tr.reserve()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.Wait(ctx), context.DeadlineExceeded)

	tr.release()
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, tr.Wait(ctx2))
}
