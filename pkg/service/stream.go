package service

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3"

	"github.com/taskmesh/taskmesh-go/pkg/errors"
	"github.com/taskmesh/taskmesh-go/pkg/handler"
	"github.com/taskmesh/taskmesh-go/pkg/sse"
	"github.com/taskmesh/taskmesh-go/pkg/taskmesh"
)

/*
handleStream creates a task and streams its execution.  It drops to a
net/http handler because SSE needs the raw flusher, which fiber's own
response writer does not expose.
*/
func (srv *TaskServer) handleStream(c fiber.Ctx) error {
	return adapt(func(w http.ResponseWriter, r *http.Request) {
		var req handler.CreateTaskRequest

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, errors.ErrMalformedRequest.WithMessagef(
				"invalid request body: %v", err,
			))
			return
		}

		events, rpcErr := srv.handler.Stream(r.Context(), req)
		if rpcErr != nil {
			httpError(w, rpcErr)
			return
		}

		srv.serveEvents(w, r, events)
	})(c)
}

// handleResumeStream continues an existing thread on the streaming path.
func (srv *TaskServer) handleResumeStream(c fiber.Ctx) error {
	id := c.Params("id")

	return adapt(func(w http.ResponseWriter, r *http.Request) {
		var msg taskmesh.Message

		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			httpError(w, errors.ErrMalformedRequest.WithMessagef(
				"invalid request body: %v", err,
			))
			return
		}

		events, rpcErr := srv.handler.ResumeStream(r.Context(), id, msg)
		if rpcErr != nil {
			httpError(w, rpcErr)
			return
		}

		srv.serveEvents(w, r, events)
	})(c)
}

func (srv *TaskServer) serveEvents(
	w http.ResponseWriter, r *http.Request, events <-chan taskmesh.StreamEvent,
) {
	writer := sse.NewWriter()

	if err := writer.Serve(r.Context(), w, events); err != nil {
		// Disconnects are routine; the task itself is unaffected.
		log.Debug("stream closed", "path", r.URL.Path, "error", err)
	}
}
