package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/charmbracelet/log"

	"github.com/taskmesh/taskmesh-go/pkg/handler"
	"github.com/taskmesh/taskmesh-go/pkg/sse"
	"github.com/taskmesh/taskmesh-go/pkg/taskmesh"
)

/*
Stream creates a task on the streaming endpoint and yields its events as
they arrive.  The channel closes when the server ends the stream or ctx is
cancelled; a disconnect does not cancel the task server-side.
*/
func (c *Client) Stream(
	ctx context.Context, req handler.CreateTaskRequest,
) (<-chan taskmesh.StreamEvent, error) {
	return c.stream(ctx, "/tasks/stream", req)
}

// ResumeStream continues an existing thread on the streaming endpoint.
func (c *Client) ResumeStream(
	ctx context.Context, id string, msg taskmesh.Message,
) (<-chan taskmesh.StreamEvent, error) {
	return c.stream(ctx, "/tasks/"+url.PathEscape(id)+"/stream", msg)
}

func (c *Client) stream(
	ctx context.Context, path string, body any,
) (<-chan taskmesh.StreamEvent, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	sub := sse.NewClient(c.baseURL + path)
	sub.Method = http.MethodPost
	sub.Body = payload

	for k, v := range c.headers {
		sub.Headers[k] = v
	}

	out := make(chan taskmesh.StreamEvent)

	go func() {
		defer close(out)
		defer sub.Close()

		err := sub.Subscribe(ctx, func(ev *sse.Event) {
			var event taskmesh.StreamEvent

			if err := json.Unmarshal(ev.Data, &event); err != nil {
				log.Warn("dropping undecodable stream event", "error", err)
				return
			}

			select {
			case out <- event:
			case <-ctx.Done():
			}
		})

		if err != nil && err != context.Canceled {
			log.Debug("stream subscription ended", "path", path, "error", err)
		}
	}()

	return out, nil
}
