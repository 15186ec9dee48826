package sse

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/taskmesh/taskmesh-go/pkg/metrics"
	"github.com/taskmesh/taskmesh-go/pkg/taskmesh"
)

// heartbeatInterval keeps intermediary proxies from closing idle streams.
const heartbeatInterval = 25 * time.Second

/*
Writer turns a stream-event channel into an SSE response.  Each event is
written as a single-line frame of the form:

data: {json}\n\n

A comment heartbeat is emitted during quiet stretches so proxies keep the
connection open.
*/
type Writer struct {
	metrics   *metrics.StreamingMetrics
	heartbeat time.Duration
}

func NewWriter() *Writer {
	return &Writer{
		metrics:   metrics.NewStreamingMetrics(),
		heartbeat: heartbeatInterval,
	}
}

// NewTestWriter shortens the heartbeat so tests can observe it.
func NewTestWriter() *Writer {
	return &Writer{
		metrics:   metrics.NewStreamingMetrics(),
		heartbeat: 100 * time.Millisecond,
	}
}

// Metrics exposes the writer's counters.
func (writer *Writer) Metrics() *metrics.StreamingMetrics {
	return writer.metrics
}

/*
Serve drains events onto w until the channel closes or ctx is done.  It
blocks for the life of the stream; use it from an HTTP handler.
*/
func (writer *Writer) Serve(
	ctx context.Context, w http.ResponseWriter, events <-chan taskmesh.StreamEvent,
) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return http.ErrNotSupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(writer.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, open := <-events:
			if !open {
				return nil
			}

			start := time.Now()

			if err := writeFrame(w, ev); err != nil {
				writer.metrics.RecordEvent(true, time.Since(start))
				return err
			}

			flusher.Flush()
			writer.metrics.RecordEvent(false, time.Since(start))
		case <-ticker.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return err
			}

			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, ev taskmesh.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	if _, err = w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err = w.Write(payload); err != nil {
		return err
	}

	_, err = w.Write([]byte("\n\n"))

	return err
}
