// Package newrelicwriter provides a New Relic Logs API writer for the Iris logging library.
//
// This package implements the iris.SyncWriter interface to ship logs to the
// New Relic Logs API in gzip-compressed batches. Shipping is strictly best
// effort: the writer never blocks the application on the network and never
// returns a delivery error to the logger.
//
// # Basic Usage
//
//	config := newrelicwriter.Config{
//		IngestionURL: newrelicwriter.DefaultIngestionURL,
//		LicenseKey:   os.Getenv("NEW_RELIC_LICENSE_KEY"),
//		Application:  "my-service",
//	}
//
//	writer, err := newrelicwriter.New(config)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer writer.Close()
//
//	logger := iris.New(iris.WithSyncWriter(writer))
//	logger.Info("Hello from Iris to New Relic!")
//
// # Flushing
//
// Events are buffered and the buffer is flushed when:
//
//   - an event at or above Threshold arrives (default: iris.Error)
//   - the first event after Interval has elapsed since the last
//     time-based flush arrives (default: 60s, zero disables)
//   - the buffer reaches BatchSize (default: 512)
//   - Flush or Close is called
//
// Each flush produces exactly one batch and one HTTP request, sent from its
// own goroutine with a bounded timeout (default: 40s) and no retries.
//
// # Payload
//
// A batch is posted as a one-element JSON array:
//
//	[{"common": {"attributes": {"hostname": "...", "application": "..."}},
//	  "logs": [{"timestamp": 1700000000000, "message": "...",
//	            "attributes": {"level": "error", "logger": "...",
//	                           "thread_id": "...", "stack_trace": "..."}}]}]
//
// Custom event properties, and the fields of an iris record, are added as
// string attributes; they never replace the four attributes above. Linking metadata
// from a MetadataProvider is captured when the event is written and unrolled
// into the attributes at flush time, overwriting properties of the same name.
//
// # Configuration
//
// Without an ingestion URL, an application name and a license or insert key
// the writer is inert. This is not an error, so local development needs no
// special setup. UpdateConfig swaps configuration at runtime, and
// LoadConfig reads the same settings from YAML.
//
// # Error Handling
//
// Failures never reach the logger. Enrichment errors, malformed events and
// delivery failures are reported to the Diagnostics sink (slog on stderr by
// default) and to the optional OnError callback. Optional Prometheus
// Metrics count accepted, dropped and delivered data.
package newrelicwriter
