package sse

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewSSEClient(t *testing.T) {
	Convey("Given a URL", t, func() {
		url := "http://example.com/tasks/stream"

		Convey("When creating a new client", func() {
			client := NewClient(url)

			Convey("It should initialize correctly", func() {
				So(client.URL, ShouldEqual, url)
				So(client.Method, ShouldEqual, http.MethodGet)
				So(client.Headers, ShouldNotBeNil)
				So(client.Metrics, ShouldNotBeNil)
			})
		})
	})
}

func TestClientSubscribe(t *testing.T) {
	Convey("Given an SSE server", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(": heartbeat\n\n"))
			w.Write([]byte("data: {\"task_id\":\"t1\"}\n\n"))
			w.(http.Flusher).Flush()
		}))
		defer server.Close()

		client := NewClient(server.URL)

		Convey("When subscribing", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			eventCh := make(chan *Event, 1)

			go func() {
				_ = client.Subscribe(ctx, func(event *Event) {
					select {
					case eventCh <- event:
					default:
					}
				})
			}()

			Convey("It should deliver the data frame", func() {
				select {
				case event := <-eventCh:
					So(string(event.Data), ShouldEqual, `{"task_id":"t1"}`)
				case <-ctx.Done():
					t.Fatal("timed out waiting for event")
				}
			})
		})
	})
}

func TestClientSubscribePostsBody(t *testing.T) {
	Convey("Given a server that records the request", t, func() {
		bodyCh := make(chan string, 1)

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			bodyCh <- r.Method + " " + string(body)

			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("data: {}\n\n"))
		}))
		defer server.Close()

		client := NewClient(server.URL)
		client.Method = http.MethodPost
		client.Body = []byte(`{"agent_id":"echo"}`)
		client.Headers["X-API-Key"] = "secret"

		Convey("When subscribing", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			go func() {
				_ = client.Subscribe(ctx, func(*Event) {})
			}()

			Convey("The request carries method and body", func() {
				select {
				case got := <-bodyCh:
					So(got, ShouldEqual, `POST {"agent_id":"echo"}`)
				case <-ctx.Done():
					t.Fatal("timed out waiting for request")
				}
			})
		})
	})
}

func TestClientSubscribeErrorStatus(t *testing.T) {
	Convey("Given a server that rejects the request", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"code":"task_not_found"}}`, http.StatusNotFound)
		}))
		defer server.Close()

		client := NewClient(server.URL)

		Convey("When subscribing", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			err := client.Subscribe(ctx, func(*Event) {})

			Convey("It should give up after retrying", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "max retries exceeded")
				So(client.Metrics.FailedConnections, ShouldBeGreaterThan, 0)
			})
		})
	})
}
